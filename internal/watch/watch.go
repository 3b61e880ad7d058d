// Package watch relays on-disk signals to a running engine: the stop file
// under .arbor/signals, note files from the human under .arbor/notes, and
// changes to project files.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/protect"
)

// Handlers receive watched events. Nil handlers are skipped.
type Handlers struct {
	// Stop is called once when the stop signal appears.
	Stop func()
	// Note is called with the text of each new note file.
	Note func(text string)
	// FileChanged is called with the project-relative path of a changed file.
	FileChanged func(rel string)
}

// Watcher watches one project.
type Watcher struct {
	root     string
	arborDir string
	detect   *protect.Detector
	logger   *zap.Logger
	handlers Handlers

	mu       sync.Mutex
	stopped  bool
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// SignalsDir returns the signals directory of a project.
func SignalsDir(root string) string {
	return filepath.Join(root, ".arbor", "signals")
}

// NotesDir returns the notes directory of a project.
func NotesDir(root string) string {
	return filepath.Join(root, ".arbor", "notes")
}

// New creates a Watcher for root, creating the signal and note directories.
// A stale stop signal from an earlier run is cleared.
func New(root string, detect *protect.Detector, logger *zap.Logger) (*Watcher, error) {
	for _, dir := range []string{SignalsDir(root), NotesDir(root)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if detect == nil {
		detect = protect.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		root:     root,
		arborDir: filepath.Join(root, ".arbor"),
		detect:   detect,
		logger:   logger.Named("watch"),
		done:     make(chan struct{}),
	}
	w.ClearSignals()
	return w, nil
}

// Start begins delivering events to h. Notes already waiting are delivered
// first. Without fsnotify support the watcher degrades to ShouldStop polling.
func (w *Watcher) Start(h Handlers) error {
	w.handlers = h
	w.drainNotes()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("file watching unavailable", zap.Error(err))
		return nil
	}
	if err := watcher.Add(SignalsDir(w.root)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch signals: %w", err)
	}
	if err := watcher.Add(NotesDir(w.root)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch notes: %w", err)
	}
	if h.FileChanged != nil {
		w.addTree(watcher, w.root)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watcher)
	return nil
}

// addTree adds every non-ignored directory under dir.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != w.root {
			if rel, ok := w.rel(p); !ok || w.detect.IsIgnored(rel) {
				return filepath.SkipDir
			}
		}
		if err := watcher.Add(p); err != nil {
			w.logger.Debug("watch directory", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) loop(watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	written := event.Op&(fsnotify.Create|fsnotify.Write) != 0
	dir := filepath.Dir(event.Name)

	switch {
	case dir == SignalsDir(w.root):
		if written && filepath.Base(event.Name) == "stop" {
			w.signalStop()
		}
	case dir == NotesDir(w.root):
		if written {
			w.drainNotes()
		}
	default:
		rel, ok := w.rel(event.Name)
		if !ok || w.detect.IsIgnored(rel) || w.handlers.FileChanged == nil {
			return
		}
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.addTree(watcher, event.Name)
			}
		}
		if event.Op&fsnotify.Chmod == event.Op {
			return
		}
		w.handlers.FileChanged(rel)
	}
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) signalStop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.stopOnce.Do(func() {
		w.logger.Info("stop signal received")
		if w.handlers.Stop != nil {
			w.handlers.Stop()
		}
	})
}

// drainNotes delivers and removes every note file, oldest name first.
func (w *Watcher) drainNotes() {
	entries, err := os.ReadDir(NotesDir(w.root))
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(NotesDir(w.root), name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text != "" && w.handlers.Note != nil {
			w.handlers.Note(text)
		}
	}
}

// ShouldStop reports whether the stop signal was seen. It also checks the
// file directly in case the watcher missed the event.
func (w *Watcher) ShouldStop() bool {
	if _, err := os.Stat(filepath.Join(SignalsDir(w.root), "stop")); err == nil {
		w.signalStop()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// ClearSignals removes the stop file and resets the stop state.
func (w *Watcher) ClearSignals() {
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()
	os.Remove(filepath.Join(SignalsDir(w.root), "stop"))
}

// Close stops watching.
func (w *Watcher) Close() {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if watcher != nil {
		watcher.Close()
	}
	w.wg.Wait()
}

// SendStop creates the stop signal file for the project at root.
func SendStop(root string) error {
	if err := os.MkdirAll(SignalsDir(root), 0755); err != nil {
		return err
	}
	path := filepath.Join(SignalsDir(root), "stop")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendNote queues a note for the Coordinator of the run at root.
func SendNote(root, text string) error {
	if err := os.MkdirAll(NotesDir(root), 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("%d.md", time.Now().UnixNano())
	tmp := filepath.Join(NotesDir(root), "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(NotesDir(root), name))
}
