package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/state"
)

var (
	cleanOlderThan time.Duration
	cleanRun       string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete finished runs from the state database",
	Long: `Delete completed, failed and canceled runs older than --older-than, or a
single run with --run. Active runs are never purged by age.`,
	Args:        cobra.NoArgs,
	Annotations: projectLog,
	RunE:        runClean,
}

func init() {
	cleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", 7*24*time.Hour, "Purge finished runs older than this")
	cleanCmd.Flags().StringVar(&cleanRun, "run", "", "Delete this run regardless of status")
}

func runClean(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(state.ProjectDBPath(projectDir)); os.IsNotExist(err) {
		fmt.Println("Nothing to clean.")
		return nil
	}
	db, err := state.OpenProject(projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	if cleanRun != "" {
		if _, err := db.GetRun(cleanRun); err != nil {
			return err
		}
		if err := db.DeleteRun(cleanRun); err != nil {
			return err
		}
		fmt.Printf("Deleted run %s.\n", cleanRun)
		return nil
	}

	n, err := db.PurgeFinishedRuns(cleanOlderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d finished run(s).\n", n)
	return nil
}
