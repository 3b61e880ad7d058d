// Package workspace manages private scratch directories for Diagnosticians.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutside is returned for names that resolve outside the workspace.
var ErrOutside = errors.New("path is outside the scratch workspace")

// Workspace is a disposable directory bound to one Diagnostician.
type Workspace struct {
	// Owner is the spawn ID of the Diagnostician.
	Owner string
	// Dir is the absolute workspace directory.
	Dir string
}

// Create makes a fresh workspace under baseDir (the system temp directory
// when empty).
func Create(baseDir, owner string) (*Workspace, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("create scratch base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "arbor-scratch-")
	if err != nil {
		return nil, fmt.Errorf("create scratch workspace: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolve scratch workspace: %w", err)
	}
	return &Workspace{Owner: owner, Dir: abs}, nil
}

// Resolve maps a workspace-relative name to an absolute path inside Dir.
// Absolute names are accepted only if they already lie inside Dir.
func (w *Workspace) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrOutside)
	}
	var abs string
	if filepath.IsAbs(name) {
		abs = filepath.Clean(name)
	} else {
		abs = filepath.Join(w.Dir, filepath.FromSlash(name))
	}
	rel, err := filepath.Rel(w.Dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutside, name)
	}
	return abs, nil
}

// Write stores content under name and returns the absolute path.
func (w *Workspace) Write(name, content string) (string, error) {
	abs, err := w.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	return abs, nil
}

// Read returns up to max bytes of the scratch file name.
func (w *Workspace) Read(name string, max int) (string, error) {
	abs, err := w.Resolve(name)
	if err != nil {
		return "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("read scratch file: %w", err)
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, int64(max)))
	if err != nil {
		return "", fmt.Errorf("read scratch file: %w", err)
	}
	return string(buf), nil
}

// Files lists the workspace files as sorted relative slash paths.
func (w *Workspace) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.Dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.Dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scratch workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Exists reports whether the workspace directory is still present.
func (w *Workspace) Exists() bool {
	_, err := os.Stat(w.Dir)
	return err == nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove scratch workspace: %w", err)
	}
	return nil
}
