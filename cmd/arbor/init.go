package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/config"
	"github.com/ShayCichocki/arbor/internal/state"
	"github.com/ShayCichocki/arbor/internal/watch"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a project for arbor",
	Long: `Prepare the project directory for arbor runs:
  - Creates the .arbor directory (state database, logs, signals, notes)
  - Writes a .arbor.yaml template unless one exists
  - Adds .arbor/ to .gitignore when the project has one
  - Reports whether oracle credentials are configured

Use -C to initialize another directory.`,
	Args:        cobra.NoArgs,
	Annotations: projectLog,
	RunE:        runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Printf("Initializing arbor in %s...\n\n", projectDir)

	db, err := state.OpenProject(projectDir)
	if err != nil {
		printStatus("✗", "State database", color.FgRed)
		return err
	}
	db.Close()
	printStatus("✓", "Created "+relToProject(state.ProjectDBPath(projectDir)), color.FgGreen)

	for _, dir := range []string{watch.SignalsDir(projectDir), watch.NotesDir(projectDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .arbor/signals and .arbor/notes", color.FgGreen)

	path, created, err := config.WriteProjectTemplate(projectDir)
	if err != nil {
		return err
	}
	if created {
		printStatus("✓", "Wrote "+relToProject(path), color.FgGreen)
	} else {
		printStatus("•", relToProject(path)+" already exists", color.FgCyan)
	}

	added, err := ignoreStateDir(projectDir)
	if err != nil {
		printStatus("⚠", "Could not update .gitignore: "+err.Error(), color.FgYellow)
	} else if added {
		printStatus("✓", "Added .arbor/ to .gitignore", color.FgGreen)
	}

	switch source := config.GetAPIKeySource(cfg); source {
	case config.KeySourceNone:
		printStatus("⚠", "No Anthropic API key (set ANTHROPIC_API_KEY or run 'arbor config anthropic.api_key <key>')", color.FgYellow)
	default:
		printStatus("✓", fmt.Sprintf("Oracle credentials from %s", source), color.FgGreen)
	}

	fmt.Println("\nStart a run with: arbor run \"<what you want built>\"")
	return nil
}

// ignoreStateDir appends .arbor/ to an existing .gitignore. It reports
// whether the file changed.
func ignoreStateDir(root string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case ".arbor", ".arbor/", "/.arbor", "/.arbor/":
			return false, nil
		}
	}

	text := string(data)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += ".arbor/\n"
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func relToProject(path string) string {
	if rel, err := filepath.Rel(projectDir, path); err == nil {
		return rel
	}
	return path
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
