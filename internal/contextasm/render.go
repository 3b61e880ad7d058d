package contextasm

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/arbor/pkg/models"
)

// Statement describes the phase to a worker of role.
func Statement(role models.Role, phase models.Phase) string {
	if role != models.RoleCoordinator {
		return fmt.Sprintf("The project is %s. You are a %s working inside your scope only.", phase, role)
	}
	switch phase {
	case models.PhaseUnderstanding:
		return "Phase: understanding. Work with the human to write the documentation. You may read and write documentation only. Request termination when the human agrees the documentation is complete."
	case models.PhaseStructuring:
		return "Phase: structuring. Scaffold directories, files and dependencies with unrestricted commands. Delegation is not available yet. Request termination when the structure is ready."
	case models.PhaseImplementing:
		return "Phase: implementing. Delegate work to the root submanager and wait for reports. Prefer delegating over editing files yourself. Request termination when the human should review completion, or request a reset if the scope has changed."
	case models.PhaseCompleted:
		return "Phase: completed. No further actions are accepted."
	default:
		return "Phase: " + string(phase)
	}
}

// Render formats the payload as the prompt text handed to an oracle.
func (p *Payload) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Role\nYou are %s (%s).\n%s\n", p.NodeID, p.Role, p.Statement)
	if p.Role.OwnsScope() {
		fmt.Fprintf(&b, "Your scope: %s\n", p.Scope)
	}
	if p.Instruction != "" {
		fmt.Fprintf(&b, "\n# Instruction\n%s\n", p.Instruction)
	}

	verbs := make([]string, len(p.Allowed))
	for i, v := range p.Allowed {
		verbs[i] = string(v)
	}
	fmt.Fprintf(&b, "\n# Allowed actions\n%s\n", strings.Join(verbs, ", "))
	if p.Commands != "" {
		fmt.Fprintf(&b, "Permitted commands: %s\n", p.Commands)
	}
	b.WriteString("Respond with exactly one JSON object naming one action, for example {\"action\":\"read\",\"paths\":[\"documentation\"]}.\n")

	if p.Documentation != "" {
		fmt.Fprintf(&b, "\n# Documentation (version %d)\n%s\n", p.DocVersion, p.Documentation)
	}

	if len(p.Notes) > 0 {
		b.WriteString("\n# Messages from the human\n")
		for _, n := range p.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if len(p.Proposals) > 0 {
		b.WriteString("\n# Documentation proposals\n")
		for _, prop := range p.Proposals {
			fmt.Fprintf(&b, "From %s (%s):\n%s\n", prop.From, prop.Role, prop.Content)
		}
	}

	if len(p.Children) > 0 {
		b.WriteString("\n# Children\n")
		for _, c := range p.Children {
			fmt.Fprintf(&b, "- %s %s %s [%s]\n", c.ID, c.Role, c.Scope, c.Status)
		}
	}

	if len(p.Listing) > 0 {
		b.WriteString("\n# Files\n")
		for _, e := range p.Listing {
			if e.IsDir {
				fmt.Fprintf(&b, "%s/\n", e.Path)
			} else {
				fmt.Fprintf(&b, "%s (%d bytes)\n", e.Path, e.Size)
			}
		}
		if p.ListingCut {
			b.WriteString("...[listing truncated]\n")
		}
	}

	writeFiles(&b, "Contents", p.Files)
	writeFiles(&b, "Scratch workspace", p.Scratch)

	if len(p.Recent) > 0 {
		b.WriteString("\n# Recent results\n")
		for _, obs := range p.Recent {
			writeObservation(&b, obs)
		}
	}
	return b.String()
}

func writeFiles(b *strings.Builder, title string, files []FileView) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "\n# %s\n", title)
	for _, f := range files {
		if f.Withheld != "" {
			fmt.Fprintf(b, "## %s\n(withheld: %s)\n", f.Path, f.Withheld)
			continue
		}
		fmt.Fprintf(b, "## %s\n%s\n", f.Path, f.Content)
		if f.Truncated {
			b.WriteString("...[file truncated]\n")
		}
	}
}

func writeObservation(b *strings.Builder, obs models.Observation) {
	switch {
	case obs.Result != nil:
		r := obs.Result
		fmt.Fprintf(b, "- $ %s (exit %d, %s)", r.Command, r.ExitCode, r.Elapsed)
		if r.TimedOut {
			b.WriteString(" TIMED OUT, possible infinite loop")
		}
		if r.Truncated {
			b.WriteString(" output truncated")
		}
		b.WriteString("\n")
		if r.Stdout != "" {
			fmt.Fprintf(b, "stdout:\n%s\n", r.Stdout)
		}
		if r.Stderr != "" {
			fmt.Fprintf(b, "stderr:\n%s\n", r.Stderr)
		}
		if obs.Text != "" {
			fmt.Fprintf(b, "%s\n", obs.Text)
		}
	case obs.Report != nil:
		rep := obs.Report
		fmt.Fprintf(b, "- report from %s (%s): %s", rep.From, rep.Role, rep.Status)
		if rep.Summary != "" {
			fmt.Fprintf(b, ": %s", rep.Summary)
		}
		b.WriteString("\n")
		for _, f := range rep.Findings {
			fmt.Fprintf(b, "  finding: %s\n", f)
		}
		for _, f := range rep.Fixes {
			fmt.Fprintf(b, "  fix: %s\n", f)
		}
		if rep.RecommendSpawnMore {
			b.WriteString("  recommends spawning more diagnosticians\n")
		}
	default:
		fmt.Fprintf(b, "- [%s] %s\n", obs.Kind, obs.Text)
	}
}
