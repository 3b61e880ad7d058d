package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/config"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/oracle"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/protect"
	"github.com/ShayCichocki/arbor/internal/state"
	"github.com/ShayCichocki/arbor/internal/watch"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// sessionOptions selects how a run is opened.
type sessionOptions struct {
	// Resume is the ID of an earlier run to continue.
	Resume string
	// Script replaces the Claude oracle with a scripted one.
	Script   string
	Approver approval.Approver
}

// session ties an engine to its persisted run, watcher and state DB.
type session struct {
	db      *state.DB
	run     *state.Run
	engine  *orchestrator.Engine
	detect  *protect.Detector
	watcher *watch.Watcher
	oracle  oracle.Oracle
	// out receives the end-of-run message.
	out io.Writer
}

// openSession opens the state DB, creates or resumes a run and builds the
// engine for it.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	pol, err := cfg.ToPolicy()
	if err != nil {
		return nil, err
	}

	detect := protect.New()
	if path := config.GetProjectConfigPath(projectDir); path != "" {
		if err := detect.LoadConfig(path); err != nil {
			logger.Warn("load path patterns", zap.String("config", path), zap.Error(err))
		}
	}

	orc, err := newOracle(ctx, opts.Script)
	if err != nil {
		return nil, err
	}

	db, err := state.OpenProject(projectDir)
	if err != nil {
		return nil, err
	}

	run, resume, err := prepareRun(db, opts.Resume)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := state.NewRunStore(db, run.ID)
	engineOpts := []orchestrator.Option{
		orchestrator.WithPolicy(pol),
		orchestrator.WithLogger(logger),
		orchestrator.WithDetector(detect),
		orchestrator.WithSnapshotter(store),
		orchestrator.WithDocumentationPersister(store),
		orchestrator.WithDocumentationPersister(docstore.MirrorFile{Path: state.MirrorPath(projectDir)}),
		orchestrator.WithRunID(run.ID),
	}
	if cfg.ScratchDir != "" {
		engineOpts = append(engineOpts, orchestrator.WithScratchDir(cfg.ScratchDir))
	}
	if resume != nil {
		engineOpts = append(engineOpts, orchestrator.WithResume(resume))
	}

	engine, err := orchestrator.New(orchestrator.RequiredConfig{
		Root:     projectDir,
		Oracle:   orc,
		Approver: opts.Approver,
	}, engineOpts...)
	if err != nil {
		_ = db.SetRunStatus(run.ID, state.RunFailed)
		db.Close()
		return nil, err
	}

	logger.Info("run opened",
		zap.String("run", run.ID),
		zap.String("phase", string(engine.Phase())),
		zap.Bool("resumed", resume != nil))

	return &session{db: db, run: run, engine: engine, detect: detect, oracle: orc, out: os.Stdout}, nil
}

// prepareRun creates a new run row, or loads the snapshot of resumeID.
func prepareRun(db *state.DB, resumeID string) (*state.Run, *orchestrator.ResumeState, error) {
	if resumeID == "" {
		run := &state.Run{
			ID:          uuid.New().String(),
			ProjectRoot: projectDir,
			Phase:       models.PhaseUnderstanding,
		}
		if err := db.CreateRun(run); err != nil {
			return nil, nil, err
		}
		return run, nil, nil
	}

	snap, err := db.LoadSnapshot(resumeID)
	if err != nil {
		return nil, nil, fmt.Errorf("resume %s: %w", resumeID, err)
	}
	if snap.Run.Phase.Terminal() {
		return nil, nil, fmt.Errorf("resume %s: run already completed", resumeID)
	}
	if err := db.SetRunStatus(resumeID, state.RunActive); err != nil {
		return nil, nil, err
	}
	run := snap.Run
	return &run, &orchestrator.ResumeState{
		Phase:         snap.Run.Phase,
		Documentation: snap.Documentation,
		Ownership:     snap.Ownership,
	}, nil
}

// newOracle returns the scripted oracle when script is set, otherwise the
// Claude oracle configured from cfg.
func newOracle(ctx context.Context, script string) (oracle.Oracle, error) {
	if script != "" {
		s, err := oracle.LoadScript(script)
		if err != nil {
			return nil, err
		}
		logger.Info("using scripted oracle", zap.String("script", script), zap.Int("responses", s.Remaining()))
		return s, nil
	}

	var apiKey string
	if config.NeedsAPIKey(cfg) {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or run 'arbor config anthropic.api_key <key>'", err)
		}
		apiKey = key
	}
	return oracle.NewClaude(ctx, oracle.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		MaxTokens:     cfg.Anthropic.MaxTokens,
	}, logger)
}

// watch starts the stop-signal, note and file watcher. A stop signal calls
// cancel.
func (s *session) watch(cancel context.CancelFunc) error {
	w, err := watch.New(projectDir, s.detect, logger)
	if err != nil {
		return err
	}
	err = w.Start(watch.Handlers{
		Stop: func() {
			logger.Info("stop signal received")
			cancel()
		},
		Note:        s.engine.AddNote,
		FileChanged: s.engine.FileChanged,
	})
	if err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	return nil
}

// finish records how the run ended and converts cancellation into a
// resumable exit.
func (s *session) finish(runErr error) error {
	status := state.RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = state.RunCanceled
	default:
		status = state.RunFailed
	}
	if err := s.db.SetRunStatus(s.run.ID, status); err != nil {
		logger.Warn("record run status", zap.String("run", s.run.ID), zap.Error(err))
	}
	if c, ok := s.oracle.(*oracle.Claude); ok {
		in, out := c.Usage().Total()
		logger.Info("oracle usage", zap.Int("calls", c.Usage().Calls()), zap.Int64("input_tokens", in), zap.Int64("output_tokens", out))
	}

	switch status {
	case state.RunCanceled:
		fmt.Fprintf(s.out, "Run %s stopped in %s. Resume with: arbor run --resume %s\n", s.run.ID, s.engine.Phase(), s.run.ID)
		return nil
	case state.RunFailed:
		return fmt.Errorf("run %s failed: %w", s.run.ID, runErr)
	}
	return nil
}

// Close releases the engine, watcher and DB.
func (s *session) Close() {
	s.engine.Close()
	if s.watcher != nil {
		s.watcher.Close()
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("close state db", zap.Error(err))
	}
}
