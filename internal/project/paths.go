// Package project gives the engine scoped access to the project file tree.
//
// All paths handled here are slash-separated and relative to the project
// root. A scope is either a directory (including "." for the whole tree) or
// a single file.
package project

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the project root.
var ErrOutsideRoot = errors.New("path escapes project root")

// Normalize cleans p into a root-relative slash path. The empty string and
// "/" both normalize to ".".
func Normalize(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" || p == "/" {
		return ".", nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrOutsideRoot, p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
	}
	return clean, nil
}

// Contains reports whether path lies within scope. Both must be normalized.
func Contains(scope, p string) bool {
	if scope == "." || scope == p {
		return true
	}
	return strings.HasPrefix(p, scope+"/")
}

// StrictlyContains reports whether p lies within scope and is not scope itself.
func StrictlyContains(scope, p string) bool {
	return scope != p && Contains(scope, p)
}

// Overlaps reports whether two scopes share any path.
func Overlaps(a, b string) bool {
	return Contains(a, b) || Contains(b, a)
}

// Parent returns the directory containing p, "." for top-level entries.
func Parent(p string) string {
	return path.Dir(p)
}
