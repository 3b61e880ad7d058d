package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/config"
	"github.com/ShayCichocki/arbor/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the runs recorded for this project",
	Long: `List the runs recorded in .arbor/state.db, newest first.

Interrupted runs (still marked active, or canceled before completing) can be
continued with 'arbor run --resume <id>'.`,
	RunE: runStatus,
}

const noRuns = "No runs yet. Start one with: arbor run \"<request>\""

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Printf("Oracle credentials: %s\n", config.GetAPIKeySource(cfg))

	if _, err := os.Stat(state.ProjectDBPath(projectDir)); os.IsNotExist(err) {
		fmt.Println(noRuns)
		return nil
	}
	db, err := state.OpenProject(projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(projectDir)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println(noRuns)
		return nil
	}

	fmt.Println()
	for _, r := range runs {
		fmt.Printf("  %s  %-13s %s  (%s ago)\n",
			r.ID, r.Phase, statusColor(r.Status).Sprint(r.Status), formatDuration(time.Since(r.StartedAt)))
	}

	interrupted, err := db.Interrupted(projectDir)
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		fmt.Printf("\nResume the latest with: arbor run --resume %s\n", interrupted[0].ID)
	}
	return nil
}

func statusColor(s state.RunStatus) *color.Color {
	switch s {
	case state.RunCompleted:
		return color.New(color.FgGreen)
	case state.RunFailed:
		return color.New(color.FgRed)
	case state.RunCanceled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// formatDuration renders d in its largest whole unit, with minutes kept
// alongside hours.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	h, m := int(d/time.Hour), int(d%time.Hour/time.Minute)
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}
