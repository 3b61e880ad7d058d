package action

import (
	"testing"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		verb models.Verb
		kind fault.Kind
	}{
		{"read", `{"action":"read","paths":["documentation"]}`, models.VerbRead, ""},
		{"fenced", "```json\n{\"action\":\"wait\"}\n```", models.VerbWait, ""},
		{"whitespace", "  \n{\"action\":\"wait\"}\n ", models.VerbWait, ""},
		{"array", `[{"action":"read","paths":["a"]},{"action":"wait"}]`, "", fault.KindParse},
		{"actions field", `{"actions":[{"action":"wait"}]}`, "", fault.KindParse},
		{"two objects", `{"action":"wait"}{"action":"wait"}`, "", fault.KindParse},
		{"two objects spaced", "{\"action\":\"wait\"}\n{\"action\":\"finish\"}", "", fault.KindParse},
		{"trailing text", `{"action":"wait"} and then read`, "", fault.KindParse},
		{"unknown field", `{"action":"wait","why":"because"}`, "", fault.KindParse},
		{"unknown verb", `{"action":"deploy"}`, "", fault.KindParse},
		{"missing verb", `{"paths":["a"]}`, "", fault.KindParse},
		{"prose", `Let me look at the files first.`, "", fault.KindParse},
		{"empty", ``, "", fault.KindParse},
		{"refusal", `I cannot execute commands in this environment.`, "", fault.KindUntrustedRefusal},
		{"refusal contraction", `I'm unable to delegate work.`, "", fault.KindUntrustedRefusal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.raw)
			if tt.kind != "" {
				if got := fault.KindOf(err); got != tt.kind {
					t.Fatalf("Parse() kind = %q (err %v), want %q", got, err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if a.Verb != tt.verb {
				t.Errorf("Parse() verb = %q, want %q", a.Verb, tt.verb)
			}
		})
	}
}

func TestParse_Fields(t *testing.T) {
	a, err := Parse(`{"action":"spawn","role":"implementer","scope":"pkg/a.go","instruction":"write it","independent":true}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.Role != models.RoleImplementer || a.Scope != "pkg/a.go" || !a.Independent {
		t.Errorf("Parse() = %+v", a)
	}

	a, err = Parse(`{"action":"finish","report":{"status":"fail","summary":"broken","findings":["x"],"recommend_spawn_more":true}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.Report.Status != models.ReportFail || !a.Report.RecommendSpawnMore {
		t.Errorf("report = %+v", a.Report)
	}
}

func TestValidate_PhaseGates(t *testing.T) {
	coord := func(p models.Phase) Caller { return Caller{Role: models.RoleCoordinator, Phase: p} }
	tests := []struct {
		name   string
		action models.Action
		caller Caller
		kind   fault.Kind
	}{
		{"delegate in understanding", models.Action{Verb: models.VerbDelegate, Child: "r", Instruction: "go"}, coord(models.PhaseUnderstanding), fault.KindPermission},
		{"spawn in structuring", models.Action{Verb: models.VerbSpawn, Role: models.RoleDiagnostician, Instruction: "go"}, coord(models.PhaseStructuring), fault.KindPermission},
		{"execute in understanding", models.Action{Verb: models.VerbExecute, Command: "mkdir x"}, coord(models.PhaseUnderstanding), fault.KindPermission},
		{"execute in structuring", models.Action{Verb: models.VerbExecute, Command: "mkdir x"}, coord(models.PhaseStructuring), ""},
		{"doc in understanding", models.Action{Verb: models.VerbWriteDocumentation, Content: "x"}, coord(models.PhaseUnderstanding), ""},
		{"coordinator spawns submanager", models.Action{Verb: models.VerbSpawn, Role: models.RoleSubManager, Scope: "pkg", Instruction: "go"}, coord(models.PhaseImplementing), fault.KindPermission},
		{"coordinator spawns diagnostician", models.Action{Verb: models.VerbSpawn, Role: models.RoleDiagnostician, Instruction: "go"}, coord(models.PhaseImplementing), ""},
		{"reset outside implementing", models.Action{Verb: models.VerbTerminate, Reset: true}, coord(models.PhaseStructuring), fault.KindPermission},
		{"anything when completed", models.Action{Verb: models.VerbRead, Paths: []string{"documentation"}}, coord(models.PhaseCompleted), fault.KindPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.action
			err := Validate(&a, tt.caller)
			if got := fault.KindOf(err); got != tt.kind {
				t.Errorf("Validate() kind = %q (err %v), want %q", got, err, tt.kind)
			}
		})
	}
}

func TestValidate_Arguments(t *testing.T) {
	impl := Caller{Role: models.RoleImplementer, Phase: models.PhaseImplementing, Scope: "pkg/a.go"}
	sub := Caller{Role: models.RoleSubManager, Phase: models.PhaseImplementing, Scope: "pkg"}
	diag := Caller{Role: models.RoleDiagnostician, Phase: models.PhaseImplementing}

	tests := []struct {
		name   string
		action models.Action
		caller Caller
		kind   fault.Kind
	}{
		{"implementer own file", models.Action{Verb: models.VerbWriteFile, Path: "./pkg/a.go", Content: "x"}, impl, ""},
		{"implementer other file", models.Action{Verb: models.VerbWriteFile, Path: "pkg/b.go", Content: "x"}, impl, fault.KindPermission},
		{"implementer escapes", models.Action{Verb: models.VerbWriteFile, Path: "../etc/passwd", Content: "x"}, impl, fault.KindPermission},
		{"implementer delegates", models.Action{Verb: models.VerbDelegate, Child: "c", Instruction: "go"}, impl, fault.KindPermission},
		{"submanager reads outside", models.Action{Verb: models.VerbRead, Paths: []string{"cmd/main.go"}}, sub, fault.KindPermission},
		{"submanager reads inside", models.Action{Verb: models.VerbRead, Paths: []string{"pkg/x.go", "documentation"}}, sub, ""},
		{"submanager writes file", models.Action{Verb: models.VerbWriteFile, Path: "pkg/x.go"}, sub, fault.KindPermission},
		{"spawn without scope", models.Action{Verb: models.VerbSpawn, Role: models.RoleImplementer, Instruction: "go"}, sub, fault.KindParse},
		{"spawn bad role", models.Action{Verb: models.VerbSpawn, Role: models.RoleCoordinator, Instruction: "go"}, sub, fault.KindParse},
		{"diagnostician with scope", models.Action{Verb: models.VerbSpawn, Role: models.RoleDiagnostician, Scope: "pkg", Instruction: "go"}, sub, fault.KindParse},
		{"finish without report", models.Action{Verb: models.VerbFinish}, sub, fault.KindParse},
		{"finish bad status", models.Action{Verb: models.VerbFinish, Report: &models.Report{Status: "meh"}}, sub, fault.KindParse},
		{"execute bad timeout", models.Action{Verb: models.VerbExecute, Command: "go test", Timeout: "forever"}, sub, fault.KindParse},
		{"diagnostician writes file", models.Action{Verb: models.VerbWriteFile, Path: "pkg/x.go"}, diag, fault.KindPermission},
		{"diagnostician scratch", models.Action{Verb: models.VerbWriteScratch, Path: "probe.sh", Content: "echo"}, diag, ""},
		{"diagnostician reads anywhere", models.Action{Verb: models.VerbRead, Paths: []string{"cmd/main.go"}}, diag, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.action
			err := Validate(&a, tt.caller)
			if got := fault.KindOf(err); got != tt.kind {
				t.Errorf("Validate() kind = %q (err %v), want %q", got, err, tt.kind)
			}
		})
	}
}

func TestValidate_NormalizesAndDefaults(t *testing.T) {
	a := models.Action{Verb: models.VerbWriteDocumentation, Content: "x"}
	if err := Validate(&a, Caller{Role: models.RoleCoordinator, Phase: models.PhaseUnderstanding}); err != nil {
		t.Fatal(err)
	}
	if a.Mode != models.DocAppend {
		t.Errorf("Mode = %q, want append", a.Mode)
	}

	a = models.Action{Verb: models.VerbWriteFile, Path: "./pkg/a.go", Content: "x"}
	if err := Validate(&a, Caller{Role: models.RoleImplementer, Phase: models.PhaseImplementing, Scope: "pkg/a.go"}); err != nil {
		t.Fatal(err)
	}
	if a.Path != "pkg/a.go" {
		t.Errorf("Path = %q, want normalized", a.Path)
	}
}
