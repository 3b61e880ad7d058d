package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "arbor.log")
	logger, err := New(Config{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q, want a JSON line with msg hello", data)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.log")
	logger, err := New(Config{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Errorf("log file = %q, want only the warn line", data)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_NoOutputsIsNop(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(0) {
		t.Error("expected a no-op logger")
	}
}

func TestForProject_RelativeFile(t *testing.T) {
	root := t.TempDir()
	logger := ForProject(root, "info", filepath.Join(".arbor", "logs", "arbor.log"))
	logger.Info("started")
	_ = logger.Sync()

	if _, err := os.Stat(filepath.Join(root, ".arbor", "logs", "arbor.log")); err != nil {
		t.Errorf("log file not created under project root: %v", err)
	}
}
