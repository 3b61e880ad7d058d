// Package tui provides the terminal user interface for arbor runs.
//
// The TUI renders the engine's event stream: the agent tree with node
// status, an activity log, the documentation, and any pending termination
// request. It writes back only two things: the human's answer to a
// termination request and free-form notes for the Coordinator.
//
// Usage:
//
//	program, app := tui.NewProgram(engine, gateway, tui.Options{OnQuit: cancel})
//	go tui.Forward(ctx, program, engine.Events())
//	if _, err := program.Run(); err != nil { ... }
//
//	// When the run ends
//	program.Send(tui.DoneMsg{Err: err})
//
// Keys: y approves the oldest pending request, x rejects it with a reason,
// n writes a note, 1/2 switch between the main and documentation tabs, and
// q quits.
package tui
