package protect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	detector := New()
	if len(detector.ignore) == 0 {
		t.Error("expected default ignore patterns to be loaded")
	}
	if len(detector.fileTypes) == 0 {
		t.Error("expected default sensitive file types to be loaded")
	}
}

func TestDetector_IsIgnored(t *testing.T) {
	detector := New()

	tests := []struct {
		path     string
		expected bool
	}{
		{".arbor/state.db", true},
		{".git/config", true},
		{"web/node_modules/react/index.js", true},
		{"pkg/__pycache__/mod.pyc", true},
		{"internal/handler/api.go", false},
		{"docs/README.md", false},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := detector.IsIgnored(tc.path); got != tc.expected {
				t.Errorf("IsIgnored(%q) = %v, expected %v", tc.path, got, tc.expected)
			}
		})
	}
}

func TestDetector_IsSensitive(t *testing.T) {
	detector := New()

	tests := []struct {
		path     string
		expected bool
	}{
		{".env", true},
		{"deploy/tls.pem", true},
		{"config/secrets/db.yaml", true},
		{"main.go", false},
		{"environment.go", false},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, reason := detector.IsSensitive(tc.path)
			if got != tc.expected {
				t.Errorf("IsSensitive(%q) = %v, expected %v", tc.path, got, tc.expected)
			}
			if got && reason == "" {
				t.Errorf("IsSensitive(%q) returned no reason", tc.path)
			}
		})
	}
}

func TestDetector_IsTracked(t *testing.T) {
	detector := New()
	root := t.TempDir()

	tests := []struct {
		name     string
		abs      string
		expected bool
	}{
		{"source file", filepath.Join(root, "pkg", "a.go"), true},
		{"root itself", root, true},
		{"engine state", filepath.Join(root, ".arbor", "scratch", "x.sh"), false},
		{"outside root", filepath.Join(filepath.Dir(root), "elsewhere", "x.sh"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detector.IsTracked(root, tc.abs); got != tc.expected {
				t.Errorf("IsTracked(%q) = %v, expected %v", tc.abs, got, tc.expected)
			}
		})
	}
}

func TestDetector_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ".arbor.yaml")
	content := `
paths:
  ignore:
    - "build/**"
  sensitive:
    - "**/private/**"
  sensitive_file_types:
    - ".sqlite"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	detector := New()
	if err := detector.LoadConfig(configPath); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !detector.IsIgnored("build/out/bin") {
		t.Error("expected build/** to be ignored")
	}
	if ok, _ := detector.IsSensitive("data/private/x.txt"); !ok {
		t.Error("expected private path to be sensitive")
	}
	if ok, _ := detector.IsSensitive("data/app.sqlite"); !ok {
		t.Error("expected .sqlite to be sensitive")
	}
}

func TestDetector_LoadConfigMissing(t *testing.T) {
	detector := New()
	if err := detector.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestProfile(t *testing.T) {
	calls := `#!/bin/sh
go test ./pkg/a -run TestParse
grep -n "func Parse" pkg/a/parse.go
`
	p := Profile("check.sh", calls)
	if p.DefinitionRatio() != 0 {
		t.Errorf("call-only script ratio = %v, want 0", p.DefinitionRatio())
	}

	reimpl := `package main

import "fmt"

func parse() {}
func lex() {}
func eval() {}
func main() { fmt.Println(parse) }
`
	p = Profile("check.go", reimpl)
	if p.Definitions != 4 {
		t.Errorf("Definitions = %d, want 4", p.Definitions)
	}
	if p.DefinitionRatio() <= 0.5 {
		t.Errorf("ratio = %v, want > 0.5", p.DefinitionRatio())
	}

	if got := Profile("notes.txt", "def x():").DefinitionRatio(); got != 0 {
		t.Errorf("unknown language ratio = %v, want 0", got)
	}
}
