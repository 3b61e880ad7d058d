package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/mcpserver"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/version"
)

var (
	serveResume string
	serveScript string
)

var serveCmd = &cobra.Command{
	Use:   "serve [request]",
	Short: "Run the engine behind an MCP server on stdio",
	Long: `Start or resume a run and expose it as an MCP server over stdio.

An MCP client (an editor or another agent) follows the run with
arbor_status and arbor_events, reads arbor_documentation, answers phase
changes with arbor_respond and talks to the Coordinator with arbor_note.

The server exits when the run completes or the client disconnects.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: projectLog,
	RunE:        runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveResume, "resume", "", "Resume the run with this ID")
	serveCmd.Flags().StringVar(&serveScript, "script", "", "Dry run: answer from a YAML/JSON script instead of Claude")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gateway := approval.NewGateway()
	sess, err := openSession(ctx, sessionOptions{Resume: serveResume, Script: serveScript, Approver: gateway})
	if err != nil {
		return err
	}
	defer sess.Close()
	// stdout carries the MCP stream.
	sess.out = os.Stderr

	if len(args) == 1 {
		sess.engine.AddNote(args[0])
	}
	if err := sess.watch(cancel); err != nil {
		return err
	}

	journal := mcpserver.NewJournal(0)
	go journal.Consume(ctx, sess.engine.Events(), func(ev orchestrator.Event) {
		logger.Debug("event", zap.String("event", ev.String()))
	})

	runDone := make(chan error, 1)
	go func() { runDone <- sess.engine.Run(ctx) }()

	s := mcpserver.New(sess.engine, gateway, journal, version.Get())
	serveDone := make(chan error, 1)
	go func() { serveDone <- mcpserver.Serve(s) }()

	select {
	case err := <-runDone:
		return sess.finish(err)
	case err := <-serveDone:
		cancel()
		runErr := <-runDone
		if err != nil {
			logger.Warn("mcp server stopped", zap.Error(err))
			_ = sess.finish(runErr)
			return fmt.Errorf("mcp server: %w", err)
		}
		return sess.finish(runErr)
	}
}
