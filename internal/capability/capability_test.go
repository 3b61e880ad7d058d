package capability

import (
	"testing"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

var (
	allRoles = []models.Role{
		models.RoleCoordinator, models.RoleSubManager,
		models.RoleImplementer, models.RoleDiagnostician,
	}
	allPhases = []models.Phase{
		models.PhaseUnderstanding, models.PhaseStructuring,
		models.PhaseImplementing, models.PhaseCompleted,
	}
)

func TestCoordinator_PhaseGates(t *testing.T) {
	tests := []struct {
		phase models.Phase
		verb  models.Verb
		want  bool
	}{
		{models.PhaseUnderstanding, models.VerbRead, true},
		{models.PhaseUnderstanding, models.VerbWriteDocumentation, true},
		{models.PhaseUnderstanding, models.VerbTerminate, true},
		{models.PhaseUnderstanding, models.VerbExecute, false},
		{models.PhaseUnderstanding, models.VerbDelegate, false},
		{models.PhaseUnderstanding, models.VerbSpawn, false},
		{models.PhaseStructuring, models.VerbExecute, true},
		{models.PhaseStructuring, models.VerbWriteFile, true},
		{models.PhaseStructuring, models.VerbDelegate, false},
		{models.PhaseStructuring, models.VerbSpawn, false},
		{models.PhaseImplementing, models.VerbDelegate, true},
		{models.PhaseImplementing, models.VerbSpawn, true},
		{models.PhaseImplementing, models.VerbWait, true},
		{models.PhaseImplementing, models.VerbFinish, false},
		{models.PhaseCompleted, models.VerbRead, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase)+"/"+string(tt.verb), func(t *testing.T) {
			if got := Permits(models.RoleCoordinator, tt.phase, tt.verb); got != tt.want {
				t.Errorf("Permits(coordinator, %s, %s) = %v, want %v", tt.phase, tt.verb, got, tt.want)
			}
		})
	}
}

func TestDiagnostician_NeverMutatesSource(t *testing.T) {
	for _, phase := range allPhases {
		for _, verb := range []models.Verb{models.VerbWriteFile, models.VerbWriteDocumentation, models.VerbDelegate, models.VerbSpawn} {
			if Permits(models.RoleDiagnostician, phase, verb) {
				t.Errorf("diagnostician permitted %s in %s", verb, phase)
			}
		}
	}
}

func TestImplementer_NoDelegation(t *testing.T) {
	for _, verb := range []models.Verb{models.VerbDelegate, models.VerbSpawn, models.VerbWait, models.VerbWriteScratch} {
		if Permits(models.RoleImplementer, models.PhaseImplementing, verb) {
			t.Errorf("implementer permitted %s", verb)
		}
	}
}

func TestAllowed_Deterministic(t *testing.T) {
	for _, role := range allRoles {
		for _, phase := range allPhases {
			for _, verb := range models.AllVerbs() {
				first := Permits(role, phase, verb)
				// Interleave other lookups to show no history is consulted.
				for _, other := range allRoles {
					Permits(other, models.PhaseImplementing, models.VerbSpawn)
					_ = Check(other, models.PhaseUnderstanding, models.VerbDelegate)
				}
				if got := Permits(role, phase, verb); got != first {
					t.Fatalf("Permits(%s, %s, %s) changed from %v to %v", role, phase, verb, first, got)
				}
			}
		}
	}
}

func TestAllowed_ReturnsCopy(t *testing.T) {
	verbs := Allowed(models.RoleImplementer, models.PhaseImplementing)
	verbs[0] = models.VerbSpawn
	if Permits(models.RoleImplementer, models.PhaseImplementing, models.VerbSpawn) {
		t.Error("mutating the returned slice changed the table")
	}
}

func TestCheck_PermissionError(t *testing.T) {
	err := Check(models.RoleCoordinator, models.PhaseUnderstanding, models.VerbDelegate)
	if err == nil {
		t.Fatal("expected permission error")
	}
	fe, ok := fault.As(err)
	if !ok || fe.Kind != fault.KindPermission {
		t.Fatalf("error = %v, want permission error", err)
	}
	if len(fe.Allowed) != 3 {
		t.Errorf("Allowed = %v, want the three understanding verbs", fe.Allowed)
	}

	if err := Check(models.RoleSubManager, models.PhaseImplementing, models.VerbExecute); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
