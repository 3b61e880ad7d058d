package project

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/arbor/internal/protect"
)

// Entry is one item of a directory listing.
type Entry struct {
	Path  string
	IsDir bool
	Size  int64
}

// Tree is the project file tree rooted at an absolute directory.
type Tree struct {
	root   string
	detect *protect.Detector
}

// New creates a Tree rooted at root.
func New(root string, detect *protect.Detector) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	if detect == nil {
		detect = protect.New()
	}
	return &Tree{root: abs, detect: detect}, nil
}

// Root returns the absolute project root.
func (t *Tree) Root() string {
	return t.root
}

// Detector returns the path classifier used by the tree.
func (t *Tree) Detector() *protect.Detector {
	return t.detect
}

// Abs resolves a normalized relative path to an absolute one.
func (t *Tree) Abs(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path inside the root to a normalized relative path.
func (t *Tree) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return "", err
	}
	return Normalize(rel)
}

// IsDir reports whether rel names an existing directory.
func (t *Tree) IsDir(rel string) bool {
	info, err := os.Stat(t.Abs(rel))
	return err == nil && info.IsDir()
}

// Exists reports whether rel exists.
func (t *Tree) Exists(rel string) bool {
	_, err := os.Stat(t.Abs(rel))
	return err == nil
}

// ReadFile reads up to max bytes of rel. Sensitive files are never read.
func (t *Tree) ReadFile(rel string, max int) (content string, truncated bool, err error) {
	if sensitive, reason := t.detect.IsSensitive(rel); sensitive {
		return "", false, fmt.Errorf("read %s: withheld, %s", rel, reason)
	}
	f, err := os.Open(t.Abs(rel))
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", rel, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, int64(max)+1))
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", rel, err)
	}
	if len(buf) > max {
		return string(buf[:max]), true, nil
	}
	return string(buf), false, nil
}

// WriteFile writes content to rel, creating parent directories.
func (t *Tree) WriteFile(rel, content string) error {
	abs := t.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// List walks dir up to depth levels and returns at most maxEntries entries in
// lexical order, skipping ignored paths and anything skip returns true for.
// The boolean result reports whether the listing was cut short.
func (t *Tree) List(dir string, depth, maxEntries int, skip func(rel string) bool) ([]Entry, bool, error) {
	var (
		entries []Entry
		cut     bool
	)
	base := t.Abs(dir)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == base {
			return nil
		}
		rel, err := t.Rel(p)
		if err != nil {
			return err
		}
		if t.detect.IsIgnored(rel) || (skip != nil && skip(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxEntries {
			cut = true
			return filepath.SkipAll
		}

		entry := Entry{Path: rel, IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)

		if d.IsDir() && levels(dir, rel) >= depth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", dir, err)
	}
	return entries, cut, nil
}

// Files returns the regular files directly inside dir, sorted, skipping
// ignored paths.
func (t *Tree) Files(dir string) ([]string, error) {
	items, err := os.ReadDir(t.Abs(dir))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var files []string
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		rel := item.Name()
		if dir != "." {
			rel = dir + "/" + item.Name()
		}
		if t.detect.IsIgnored(rel) {
			continue
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

// levels counts how many path segments rel has below dir.
func levels(dir, rel string) int {
	if dir != "." {
		rel = strings.TrimPrefix(rel, dir+"/")
	}
	return strings.Count(rel, "/") + 1
}
