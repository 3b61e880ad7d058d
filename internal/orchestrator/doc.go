// Package orchestrator drives the supervision tree.
//
// The Engine owns the Coordinator's phase, runs one turn at a time per node
// (assemble context, ask the oracle, parse, validate, dispatch) and
// implements the delegation protocol: delegate and spawn queue dispatches,
// wait runs them (concurrently only when every dispatch of the batch is
// declared independent) and joins them before the parent resumes.
//
// Rejected actions are recorded on the node as corrective observations and
// the node is re-prompted. Only a human-approved termination ends a run
// normally.
//
// Example usage:
//
//	eng, err := orchestrator.New(orchestrator.RequiredConfig{
//		Root:     ".",
//		Oracle:   claude,
//		Approver: approval.NewTerminal(os.Stdin, os.Stdout),
//	}, orchestrator.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//	return eng.Run(ctx)
package orchestrator
