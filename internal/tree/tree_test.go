package tree

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

func TestNew_CoordinatorHasOneChild(t *testing.T) {
	tr := New(10)
	coord, ok := tr.Get(tr.CoordinatorID())
	if !ok {
		t.Fatal("coordinator missing")
	}
	if len(coord.Children) != 1 || coord.Children[0] != tr.RootID() {
		t.Fatalf("coordinator children = %v", coord.Children)
	}
	root, _ := tr.Get(tr.RootID())
	if root.Role != models.RoleSubManager || root.Scope != "." {
		t.Errorf("root = %+v", root)
	}
	if err := tr.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() error = %v", err)
	}
}

func TestSpawn_CoordinatorCannotGainChildren(t *testing.T) {
	tr := New(10)
	for _, role := range []models.Role{models.RoleSubManager, models.RoleImplementer} {
		_, err := tr.Spawn(tr.CoordinatorID(), role, "pkg", "", 0)
		if !fault.Is(err, fault.KindPermission) {
			t.Errorf("Spawn(%s) error = %v, want permission error", role, err)
		}
	}
	coord, _ := tr.Get(tr.CoordinatorID())
	if len(coord.Children) != 1 {
		t.Errorf("coordinator children = %d, want 1", len(coord.Children))
	}
}

func TestSpawn_ScopeRules(t *testing.T) {
	tr := New(10)
	pkg, err := tr.Spawn(tr.RootID(), models.RoleSubManager, "pkg", "build pkg", 1)
	if err != nil {
		t.Fatalf("Spawn(pkg) error = %v", err)
	}
	if pkg.DocVersion != 1 || pkg.Instruction != "build pkg" {
		t.Errorf("unexpected node %+v", pkg)
	}

	tests := []struct {
		name    string
		parent  string
		role    models.Role
		scope   string
		wantErr bool
	}{
		{"disjoint sibling", tr.RootID(), models.RoleSubManager, "cmd", false},
		{"overlapping sibling", tr.RootID(), models.RoleImplementer, "pkg/a.go", true},
		{"parent of sibling", tr.RootID(), models.RoleSubManager, "pkg/..", true},
		{"child inside pkg", pkg.ID, models.RoleImplementer, "pkg/a.go", false},
		{"same as parent", pkg.ID, models.RoleSubManager, "pkg", true},
		{"outside parent", pkg.ID, models.RoleImplementer, "cmd/main.go", true},
		{"escaping root", tr.RootID(), models.RoleImplementer, "../x.go", true},
		{"diagnostician in tree", pkg.ID, models.RoleDiagnostician, "pkg/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Spawn(tt.parent, tt.role, tt.scope, "", 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Spawn() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !fault.Is(err, fault.KindPermission) {
				t.Errorf("error kind = %q, want permission", fault.KindOf(err))
			}
		})
	}

	if err := tr.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() error = %v", err)
	}
}

func TestSpawn_ImplementerHasNoChildren(t *testing.T) {
	tr := New(10)
	impl, err := tr.Spawn(tr.RootID(), models.RoleImplementer, "main.go", "", 0)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if _, err := tr.Spawn(impl.ID, models.RoleImplementer, "main.go/x", "", 0); !fault.Is(err, fault.KindPermission) {
		t.Errorf("error = %v, want permission error", err)
	}
}

func TestDestroy(t *testing.T) {
	tr := New(10)
	pkg, _ := tr.Spawn(tr.RootID(), models.RoleSubManager, "pkg", "", 0)
	impl, _ := tr.Spawn(pkg.ID, models.RoleImplementer, "pkg/a.go", "", 0)

	removed, err := tr.Destroy(pkg.ID)
	if err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %v, want 2 ids", removed)
	}
	if tr.Has(pkg.ID) || tr.Has(impl.ID) {
		t.Error("subtree should be gone")
	}
	if len(tr.Children(tr.RootID())) != 0 {
		t.Error("root should have no children")
	}

	if _, err := tr.Destroy(tr.RootID()); !errors.Is(err, ErrInvariant) {
		t.Errorf("Destroy(root) error = %v, want ErrInvariant", err)
	}
	if _, err := tr.Destroy(tr.CoordinatorID()); !errors.Is(err, ErrInvariant) {
		t.Errorf("Destroy(coordinator) error = %v, want ErrInvariant", err)
	}
	if _, err := tr.Destroy("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Destroy(missing) error = %v, want ErrNotFound", err)
	}
}

func TestResetRoot(t *testing.T) {
	tr := New(10)
	pkg, _ := tr.Spawn(tr.RootID(), models.RoleSubManager, "pkg", "", 0)
	_, _ = tr.Spawn(pkg.ID, models.RoleImplementer, "pkg/a.go", "", 0)
	_ = tr.Assign(tr.RootID(), "build it", 0)

	removed := tr.ResetRoot()
	if len(removed) != 2 {
		t.Errorf("removed = %v", removed)
	}
	root, _ := tr.Get(tr.RootID())
	if len(root.Children) != 0 || root.Instruction != "" || root.Status != models.NodeStatusIdle {
		t.Errorf("root after reset = %+v", root)
	}
	if tr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tr.Count())
	}
}

func TestRecord_Bounded(t *testing.T) {
	tr := New(3)
	for i := 0; i < 5; i++ {
		if err := tr.Record(tr.RootID(), models.Observation{Kind: models.ObservationNote}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	root, _ := tr.Get(tr.RootID())
	if len(root.History) != 3 {
		t.Errorf("history length = %d, want 3", len(root.History))
	}
}

func TestOwnedByChild(t *testing.T) {
	tr := New(10)
	_, _ = tr.Spawn(tr.RootID(), models.RoleSubManager, "pkg", "", 0)
	if !tr.OwnedByChild(tr.RootID(), "pkg/a.go") {
		t.Error("pkg/a.go should be owned by a child")
	}
	if tr.OwnedByChild(tr.RootID(), "main.go") {
		t.Error("main.go should not be owned by a child")
	}
}

func TestOwnershipRestore(t *testing.T) {
	tr := New(10)
	pkg, _ := tr.Spawn(tr.RootID(), models.RoleSubManager, "pkg", "", 0)
	_, _ = tr.Spawn(pkg.ID, models.RoleImplementer, "pkg/a.go", "", 0)

	rows := tr.Ownership()
	if len(rows) != 4 || rows[0].NodeID != tr.CoordinatorID() || rows[1].NodeID != tr.RootID() {
		t.Fatalf("Ownership() = %+v", rows)
	}

	restored, err := Restore(rows, 10)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.CoordinatorID() != tr.CoordinatorID() || restored.RootID() != tr.RootID() {
		t.Error("restored IDs differ")
	}
	if restored.Count() != 4 {
		t.Errorf("Count() = %d, want 4", restored.Count())
	}
	if len(restored.Children(pkg.ID)) != 1 {
		t.Error("restored pkg should have one child")
	}

	if _, err := Restore(rows[1:], 10); !errors.Is(err, ErrInvariant) {
		t.Errorf("Restore without coordinator error = %v, want ErrInvariant", err)
	}
}

func TestDisjoint(t *testing.T) {
	if _, _, ok := Disjoint([]string{"pkg/a", "pkg/b", "cmd"}); !ok {
		t.Error("expected disjoint scopes")
	}
	a, b, ok := Disjoint([]string{"pkg", "cmd", "pkg/a.go"})
	if ok || a != "pkg" || b != "pkg/a.go" {
		t.Errorf("Disjoint() = %q, %q, %v", a, b, ok)
	}
}
