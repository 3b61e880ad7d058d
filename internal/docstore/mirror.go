package docstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// MirrorFile persists each snapshot to a plain file for humans and editors.
type MirrorFile struct {
	Path string
}

// SaveDocumentation writes the snapshot atomically.
func (m MirrorFile) SaveDocumentation(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0755); err != nil {
		return fmt.Errorf("create documentation dir: %w", err)
	}
	tmp := m.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(snap.Content), 0644); err != nil {
		return fmt.Errorf("write documentation mirror: %w", err)
	}
	if err := os.Rename(tmp, m.Path); err != nil {
		return fmt.Errorf("rename documentation mirror: %w", err)
	}
	return nil
}

// LoadMirror reads a mirror file, returning empty content when it is missing.
func LoadMirror(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read documentation mirror: %w", err)
	}
	return string(data), nil
}
