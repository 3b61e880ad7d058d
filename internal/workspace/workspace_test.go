package workspace

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestWorkspace_Lifecycle(t *testing.T) {
	ws, err := Create(t.TempDir(), "diag-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !ws.Exists() {
		t.Fatal("workspace should exist after create")
	}

	abs, err := ws.Write("checks/run.sh", "go test ./pkg/a\n")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Dir(filepath.Dir(abs)) != ws.Dir {
		t.Errorf("written path %q not inside %q", abs, ws.Dir)
	}

	content, err := ws.Read("checks/run.sh", 1024)
	if err != nil || content != "go test ./pkg/a\n" {
		t.Errorf("Read() = %q, %v", content, err)
	}

	files, err := ws.Files()
	if err != nil || len(files) != 1 || files[0] != "checks/run.sh" {
		t.Errorf("Files() = %v, %v", files, err)
	}

	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ws.Exists() {
		t.Error("workspace should be gone after remove")
	}
}

func TestWorkspace_Resolve(t *testing.T) {
	ws, err := Create(t.TempDir(), "diag-2")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"check.sh", false},
		{"a/b/c.py", false},
		{filepath.Join(ws.Dir, "inside.sh"), false},
		{"", true},
		{".", true},
		{"../escape.sh", true},
		{"a/../../escape.sh", true},
		{"/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ws.Resolve(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutside) {
				t.Errorf("error = %v, want ErrOutside", err)
			}
		})
	}
}
