package protect

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Detector classifies project-relative paths.
type Detector struct {
	ignore    []string
	sensitive []string
	fileTypes []string
	mu        sync.RWMutex
}

// projectConfig is the protect section of .arbor.yaml.
type projectConfig struct {
	Paths struct {
		Ignore    []string `yaml:"ignore"`
		Sensitive []string `yaml:"sensitive"`
		FileTypes []string `yaml:"sensitive_file_types"`
	} `yaml:"paths"`
}

// New creates a detector with the default patterns.
func New() *Detector {
	return &Detector{
		ignore:    append([]string{}, DefaultIgnore...),
		sensitive: append([]string{}, DefaultSensitivePatterns...),
		fileTypes: append([]string{}, DefaultSensitiveFileTypes...),
	}
}

// IsIgnored reports whether rel is excluded from listings and context.
func (d *Detector) IsIgnored(rel string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rel = filepath.ToSlash(rel)
	for _, pattern := range d.ignore {
		if matchGlobPattern(rel, pattern) {
			return true
		}
	}
	return false
}

// IsSensitive reports whether the contents of rel must be withheld, with the reason.
func (d *Detector) IsSensitive(rel string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rel = filepath.ToSlash(rel)
	for _, pattern := range d.sensitive {
		if matchGlobPattern(rel, pattern) {
			return true, "path matches sensitive pattern " + pattern
		}
	}
	base := strings.ToLower(filepath.Base(rel))
	ext := strings.ToLower(filepath.Ext(rel))
	for _, ft := range d.fileTypes {
		ft = strings.ToLower(ft)
		if ext == ft || base == ft {
			return true, "file type is sensitive: " + ft
		}
	}
	return false, ""
}

// IsTracked reports whether the absolute path abs lies inside the project
// rooted at root and is therefore tracked source. Ignored paths such as the
// engine's own state directory are not tracked.
func (d *Detector) IsTracked(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if rel == "." {
		return true
	}
	return !d.IsIgnored(rel)
}

// AddIgnore adds a glob pattern to the ignore list.
func (d *Detector) AddIgnore(pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ignore = append(d.ignore, pattern)
}

// LoadConfig loads extra patterns from the paths section of a YAML file.
func (d *Detector) LoadConfig(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var config projectConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.ignore = append(d.ignore, config.Paths.Ignore...)
	d.sensitive = append(d.sensitive, config.Paths.Sensitive...)
	d.fileTypes = append(d.fileTypes, config.Paths.FileTypes...)

	return nil
}
