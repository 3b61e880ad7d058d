package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/tui"
)

var (
	runResume  string
	runScript  string
	runTUI     bool
	runApprove string
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Start or resume a run on the project",
	Long: `Start a run on the project directory, or resume an interrupted one.

The optional request is handed to the Coordinator as your first message.
While the run is going you can send more with 'arbor note', or with n in the
TUI. Stop a run from another terminal with 'arbor stop'; it can be resumed
later with --resume.

Approval modes (--approve):
  prompt   Ask on this terminal for every phase change (default)
  auto     Approve every phase change (for scripted dry runs)

Examples:
  arbor run "a CLI that converts CSV to JSON"
  arbor run --tui
  arbor run --resume 3f2a...
  arbor run --script demo.yaml --approve auto`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: projectLog,
	RunE:        runRun,
}

func init() {
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume the run with this ID")
	runCmd.Flags().StringVar(&runScript, "script", "", "Dry run: answer from a YAML/JSON script instead of Claude")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the terminal UI")
	runCmd.Flags().StringVar(&runApprove, "approve", "prompt", "Approval mode: prompt or auto")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		approver approval.Approver
		gateway  = approval.NewGateway()
	)
	switch runApprove {
	case "auto":
		approver = &approval.Auto{Approve: true}
	case "prompt":
		if runTUI {
			approver = gateway
		} else {
			approver = approval.NewTerminal(os.Stdin, os.Stdout)
		}
	default:
		return fmt.Errorf("unknown approval mode %q (want prompt or auto)", runApprove)
	}

	sess, err := openSession(ctx, sessionOptions{Resume: runResume, Script: runScript, Approver: approver})
	if err != nil {
		return err
	}
	defer sess.Close()

	if len(args) == 1 {
		sess.engine.AddNote(args[0])
	}
	if err := sess.watch(cancel); err != nil {
		return err
	}

	var runErr error
	if runTUI {
		runErr = runWithTUI(ctx, cancel, sess, gateway)
	} else {
		fmt.Printf("Run %s (%s)\n", sess.run.ID, sess.engine.Phase())
		runErr = runHeadless(ctx, sess)
	}
	return sess.finish(runErr)
}

// runHeadless prints events while the engine runs.
func runHeadless(ctx context.Context, sess *session) error {
	p := newPrinter(os.Stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.consume(sess.engine.Events())
	}()

	err := sess.engine.Run(ctx)
	sess.engine.Close()
	<-done
	return err
}

// runWithTUI runs the engine behind the terminal UI. Quitting the UI before
// the run ends cancels it.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, sess *session, gateway *approval.Gateway) error {
	program, _ := tui.NewProgram(sess.engine, gateway, tui.Options{
		RefreshRate: cfg.TUI.RefreshRate,
		OnQuit:      cancel,
	})
	go tui.Forward(ctx, program, sess.engine.Events())

	runDone := make(chan error, 1)
	go func() {
		err := sess.engine.Run(ctx)
		program.Send(tui.DoneMsg{Err: err})
		runDone <- err
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-runDone
		return fmt.Errorf("run tui: %w", err)
	}
	cancel()
	return <-runDone
}
