package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/watch"
)

var noteCmd = &cobra.Command{
	Use:   "note <message>",
	Short: "Send a message to the Coordinator of the running run",
	Long: `Queue a message for the Coordinator. It is shown on the Coordinator's
next turn. Notes are how you answer its questions during understanding.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fmt.Errorf("note is empty")
		}
		if err := watch.SendNote(projectDir, text); err != nil {
			return err
		}
		fmt.Println("Note queued.")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running run",
	Long: `Signal the running run to stop. Its state is kept and it can be
continued with 'arbor run --resume <id>'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := watch.SendStop(projectDir); err != nil {
			return err
		}
		fmt.Println("Stop signal sent.")
		return nil
	},
}
