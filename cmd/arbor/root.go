package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/config"
	"github.com/ShayCichocki/arbor/internal/logging"
)

// annotationProjectLog marks commands that write the project log file.
const annotationProjectLog = "arbor/project-log"

var projectLog = map[string]string{annotationProjectLog: "true"}

var (
	// Global flags
	verbose bool
	dirFlag string

	// Set by PersistentPreRunE for every command.
	projectDir string
	cfg        *config.Config
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Hierarchical agent orchestration for a single project",
	Long: `arbor drives a tree of AI workers over one project directory.

A Coordinator first talks with you and writes the project documentation
(understanding), then scaffolds the project structure (structuring), then
delegates the work to a tree of scoped workers (implementing). Every phase
change needs your explicit approval.

Start a run with 'arbor run "<what you want built>"'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := dirFlag
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			dir = wd
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve project directory: %w", err)
		}
		projectDir = abs

		cfg, err = config.LoadProject(projectDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		var logFile string
		if cmd.Annotations[annotationProjectLog] == "true" {
			logFile = cfg.Logging.File
		}
		if logFile != "" && !filepath.IsAbs(logFile) {
			logFile = filepath.Join(projectDir, logFile)
		}
		l, err := logging.New(logging.Config{
			Level: level,
			File:  logFile,
			// The TUI owns the terminal.
			Console: verbose && !runTUI,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging, mirrored to stderr")
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "Project directory (default: current directory)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
