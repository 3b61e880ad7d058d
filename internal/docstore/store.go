// Package docstore holds the single canonical documentation artifact.
//
// Exactly one writer, fixed at construction, may commit changes. Every other
// node submits proposals, which the writer drains and merges. Readers always
// see the latest committed snapshot.
package docstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrPersist wraps failures of a persister after a successful commit.
var ErrPersist = errors.New("persist documentation")

// Snapshot is one committed version of the documentation.
type Snapshot struct {
	Version   int64
	Content   string
	UpdatedAt time.Time
}

// Diff describes one commit for presentation consumers.
type Diff struct {
	Version  int64
	Mode     models.DocMode
	Added    string
	Previous int
	Current  int
}

// Proposal is documentation text submitted upward by a non-writer.
type Proposal struct {
	From    string
	Role    models.Role
	Content string
	At      time.Time
}

// Persister stores committed snapshots.
type Persister interface {
	SaveDocumentation(snap Snapshot) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(Snapshot) error

// SaveDocumentation calls f.
func (f PersistFunc) SaveDocumentation(snap Snapshot) error {
	return f(snap)
}

// Store is the documentation store. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	writer    string
	snap      Snapshot
	proposals []Proposal

	persisters []Persister
	onCommit   []func(Diff)
}

// New creates a store whose only writer is writerID.
func New(writerID string) *Store {
	return &Store{
		writer: writerID,
		snap:   Snapshot{UpdatedAt: time.Now()},
	}
}

// AddPersister registers p to receive every committed snapshot.
func (s *Store) AddPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisters = append(s.persisters, p)
}

// OnCommit registers fn to be called with every commit's diff.
func (s *Store) OnCommit(fn func(Diff)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

// Snapshot returns the latest committed snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Restore replaces the current snapshot without persisting, for resuming a run.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// Write commits content in the given mode on behalf of writerID.
func (s *Store) Write(writerID string, mode models.DocMode, content string) (Snapshot, error) {
	switch mode {
	case models.DocReplace:
		return s.Replace(writerID, content)
	case models.DocAppend, "":
		return s.Append(writerID, content)
	default:
		return s.Snapshot(), fault.Parsef("unknown documentation mode %q, use %q or %q", mode, models.DocAppend, models.DocReplace)
	}
}

// Append adds content to the end of the documentation.
func (s *Store) Append(writerID, content string) (Snapshot, error) {
	return s.commit(writerID, models.DocAppend, func(current string) string {
		if current != "" && !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + content
	}, content)
}

// Replace sets the documentation to exactly content.
func (s *Store) Replace(writerID, content string) (Snapshot, error) {
	return s.commit(writerID, models.DocReplace, func(string) string {
		return content
	}, content)
}

func (s *Store) commit(writerID string, mode models.DocMode, apply func(string) string, added string) (Snapshot, error) {
	s.mu.Lock()
	if writerID != s.writer {
		s.mu.Unlock()
		return s.Snapshot(), fault.Permissionf(string(models.VerbWriteDocumentation),
			"only the coordinator writes documentation; report a doc_proposal upward instead")
	}
	previous := len(s.snap.Content)
	s.snap = Snapshot{
		Version:   s.snap.Version + 1,
		Content:   apply(s.snap.Content),
		UpdatedAt: time.Now(),
	}
	snap := s.snap
	persisters := append([]Persister(nil), s.persisters...)
	hooks := append([]func(Diff){}, s.onCommit...)
	s.mu.Unlock()

	diff := Diff{Version: snap.Version, Mode: mode, Added: added, Previous: previous, Current: len(snap.Content)}
	for _, fn := range hooks {
		fn(diff)
	}

	var errs []error
	for _, p := range persisters {
		if err := p.SaveDocumentation(snap); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return snap, fmt.Errorf("%w: %w", ErrPersist, errors.Join(errs...))
	}
	return snap, nil
}

// Propose queues documentation text from a non-writer.
func (s *Store) Propose(from string, role models.Role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, Proposal{From: from, Role: role, Content: content, At: time.Now()})
}

// Pending returns the number of queued proposals.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proposals)
}

// TakeProposals removes and returns the oldest queued proposals whose content
// fits in max bytes. A first proposal larger than max is cut to max and taken
// so one oversized proposal cannot block the queue.
func (s *Store) TakeProposals(max int) []Proposal {
	if max <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n, used int
	for n < len(s.proposals) && used+len(s.proposals[n].Content) <= max {
		used += len(s.proposals[n].Content)
		n++
	}
	if n == 0 && len(s.proposals) > 0 {
		first := s.proposals[0]
		first.Content = first.Content[:max] + "\n...[truncated]"
		s.proposals = s.proposals[1:]
		return []Proposal{first}
	}
	out := append([]Proposal(nil), s.proposals[:n]...)
	s.proposals = append([]Proposal(nil), s.proposals[n:]...)
	return out
}
