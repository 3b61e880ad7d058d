package action

import (
	"strings"

	"github.com/ShayCichocki/arbor/internal/capability"
	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// Caller identifies who issued an action.
type Caller struct {
	Role  models.Role
	Phase models.Phase
	// Scope is the caller's owned path; empty for roles that own nothing.
	Scope string
}

// Validate checks a parsed action against the caller's capability set and the
// verb's argument rules. Paths in the action are normalized in place.
func Validate(a *models.Action, c Caller) error {
	if err := capability.Check(c.Role, c.Phase, a.Verb); err != nil {
		return err
	}
	op := string(a.Verb)

	switch a.Verb {
	case models.VerbRead:
		if len(a.Paths) == 0 {
			return fault.Parsef("read requires \"paths\"")
		}
		for i, p := range a.Paths {
			if p == models.DocumentationPath {
				continue
			}
			norm, err := project.Normalize(p)
			if err != nil {
				return fault.Permissionf(op, "%v", err)
			}
			if c.Role.OwnsScope() && !project.Contains(c.Scope, norm) {
				return fault.Permissionf(op, "%q is outside your scope %q", norm, c.Scope)
			}
			a.Paths[i] = norm
		}

	case models.VerbExecute:
		if strings.TrimSpace(a.Command) == "" {
			return fault.Parsef("execute requires \"command\"")
		}
		switch a.Timeout {
		case "", models.TimeoutDefault, models.TimeoutUnbounded:
		default:
			return fault.Parsef("timeout must be %q or %q", models.TimeoutDefault, models.TimeoutUnbounded)
		}
		if a.TimeoutSeconds < 0 {
			return fault.Parsef("timeout_seconds must not be negative")
		}

	case models.VerbWriteDocumentation:
		switch a.Mode {
		case "":
			a.Mode = models.DocAppend
		case models.DocAppend, models.DocReplace:
		default:
			return fault.Parsef("mode must be %q or %q", models.DocAppend, models.DocReplace)
		}
		if a.Mode == models.DocAppend && a.Content == "" {
			return fault.Parsef("write_documentation append requires \"content\"")
		}

	case models.VerbWriteFile:
		norm, err := requirePath(a, op)
		if err != nil {
			return err
		}
		if c.Role == models.RoleImplementer && norm != c.Scope {
			return fault.Permissionf(op, "implementers may only write their own file %q, not %q", c.Scope, norm)
		}

	case models.VerbWriteScratch, models.VerbRunScratch:
		if strings.TrimSpace(a.Path) == "" {
			return fault.Parsef("%s requires \"path\"", op)
		}
		if a.Verb == models.VerbWriteScratch && a.Content == "" {
			return fault.Parsef("write_scratch requires \"content\"")
		}

	case models.VerbDelegate:
		if a.Child == "" {
			return fault.Parsef("delegate requires \"child\"")
		}
		if strings.TrimSpace(a.Instruction) == "" {
			return fault.Parsef("delegate requires \"instruction\"")
		}

	case models.VerbSpawn:
		if strings.TrimSpace(a.Instruction) == "" {
			return fault.Parsef("spawn requires \"instruction\"")
		}
		switch a.Role {
		case models.RoleDiagnostician:
			if a.Scope != "" {
				return fault.Parsef("diagnosticians own nothing; use \"focus\" instead of \"scope\"")
			}
			for i, f := range a.Focus {
				norm, err := project.Normalize(f)
				if err != nil {
					return fault.Permissionf(op, "focus %v", err)
				}
				a.Focus[i] = norm
			}
		case models.RoleSubManager, models.RoleImplementer:
			if c.Role == models.RoleCoordinator {
				return fault.Permissionf(op, "the coordinator may only spawn diagnosticians; delegate to the root submanager instead")
			}
			if a.Scope == "" {
				return fault.Parsef("spawning a %s requires \"scope\"", a.Role)
			}
			norm, err := project.Normalize(a.Scope)
			if err != nil {
				return fault.Permissionf(op, "%v", err)
			}
			a.Scope = norm
		default:
			return fault.Parsef("spawn role must be submanager, implementer or diagnostician, got %q", a.Role)
		}

	case models.VerbFinish:
		if a.Report == nil {
			return fault.Parsef("finish requires \"report\"")
		}
		if !a.Report.Status.Valid() {
			return fault.Parsef("report status must be %q or %q", models.ReportPass, models.ReportFail)
		}

	case models.VerbTerminate:
		if a.Reset && c.Phase != models.PhaseImplementing {
			return fault.Permissionf(op, "a scope reset is only possible while implementing")
		}
	}
	return nil
}

func requirePath(a *models.Action, op string) (string, error) {
	if strings.TrimSpace(a.Path) == "" {
		return "", fault.Parsef("%s requires \"path\"", op)
	}
	norm, err := project.Normalize(a.Path)
	if err != nil {
		return "", fault.Permissionf(op, "%v", err)
	}
	if norm == "." {
		return "", fault.Parsef("%s requires a file path", op)
	}
	a.Path = norm
	return norm, nil
}
