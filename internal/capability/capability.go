// Package capability is the static table of allowed verbs per (role, phase).
package capability

import (
	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

var (
	coordinatorByPhase = map[models.Phase][]models.Verb{
		models.PhaseUnderstanding: {
			models.VerbRead, models.VerbWriteDocumentation, models.VerbTerminate,
		},
		models.PhaseStructuring: {
			models.VerbRead, models.VerbWriteDocumentation, models.VerbExecute,
			models.VerbWriteFile, models.VerbTerminate,
		},
		models.PhaseImplementing: {
			models.VerbRead, models.VerbWriteDocumentation, models.VerbExecute,
			models.VerbWriteFile, models.VerbDelegate, models.VerbSpawn,
			models.VerbWait, models.VerbTerminate,
		},
		models.PhaseCompleted: {},
	}

	// Workers only exist while the Coordinator is implementing, so their sets
	// do not vary with phase.
	fixed = map[models.Role][]models.Verb{
		models.RoleSubManager: {
			models.VerbRead, models.VerbExecute, models.VerbDelegate,
			models.VerbSpawn, models.VerbWait, models.VerbFinish,
		},
		models.RoleImplementer: {
			models.VerbRead, models.VerbExecute, models.VerbWriteFile, models.VerbFinish,
		},
		models.RoleDiagnostician: {
			models.VerbRead, models.VerbExecute, models.VerbWriteScratch,
			models.VerbRunScratch, models.VerbFinish,
		},
	}
)

// Allowed returns the verbs role may use in phase, in grammar order.
// The returned slice is a copy.
func Allowed(role models.Role, phase models.Phase) []models.Verb {
	var verbs []models.Verb
	if role == models.RoleCoordinator {
		verbs = coordinatorByPhase[phase]
	} else {
		verbs = fixed[role]
	}
	return append([]models.Verb{}, verbs...)
}

// Permits reports whether role may use verb in phase.
func Permits(role models.Role, phase models.Phase, verb models.Verb) bool {
	for _, v := range Allowed(role, phase) {
		if v == verb {
			return true
		}
	}
	return false
}

// Check returns a permission error carrying the allowed set when role may not
// use verb in phase.
func Check(role models.Role, phase models.Phase, verb models.Verb) error {
	if Permits(role, phase, verb) {
		return nil
	}
	return fault.Permissionf(string(verb), "%s may not %s during %s", role, verb, phase).
		WithAllowed(Allowed(role, phase))
}
