package docstore

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

func TestReplace_RoundTrip(t *testing.T) {
	s := New("coord")
	content := "# Project\n\nExact   content\twith  whitespace\n\n"

	snap, err := s.Write("coord", models.DocReplace, content)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("Version = %d, want 1", snap.Version)
	}
	if got := s.Snapshot().Content; got != content {
		t.Errorf("Snapshot().Content = %q, want %q", got, content)
	}
}

func TestAppend(t *testing.T) {
	s := New("coord")
	if _, err := s.Append("coord", "first"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	snap, err := s.Append("coord", "second\n")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if snap.Content != "first\nsecond\n" {
		t.Errorf("Content = %q", snap.Content)
	}
	if snap.Version != 2 {
		t.Errorf("Version = %d, want 2", snap.Version)
	}
}

func TestWrite_SingleWriter(t *testing.T) {
	s := New("coord")
	_, err := s.Write("submanager-1", models.DocAppend, "sneaky")
	if !fault.Is(err, fault.KindPermission) {
		t.Fatalf("error = %v, want permission error", err)
	}
	if s.Snapshot().Version != 0 || s.Snapshot().Content != "" {
		t.Error("rejected write must not change the snapshot")
	}
}

func TestWrite_UnknownMode(t *testing.T) {
	s := New("coord")
	if _, err := s.Write("coord", "merge", "x"); !fault.Is(err, fault.KindParse) {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestProposals(t *testing.T) {
	s := New("coord")
	s.Propose("sm-1", models.RoleSubManager, "pkg/a exposes Parse")
	s.Propose("sm-2", models.RoleSubManager, "   ")

	if got := s.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}
	taken := s.TakeProposals(1024)
	if len(taken) != 1 || taken[0].From != "sm-1" {
		t.Errorf("TakeProposals() = %+v", taken)
	}
	if s.Pending() != 0 {
		t.Error("proposals should be empty once taken")
	}
}

func TestTakeProposals_Budget(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		wantFrom  []string
		wantLeft  int
		wantFirst string
	}{
		{name: "no room", max: 0, wantLeft: 3},
		{name: "fits two", max: 8, wantFrom: []string{"a", "b"}, wantLeft: 1, wantFirst: "aaaa"},
		{name: "fits all", max: 100, wantFrom: []string{"a", "b", "c"}, wantFirst: "aaaa"},
		{name: "oversized head is cut", max: 2, wantFrom: []string{"a"}, wantLeft: 2, wantFirst: "aa\n...[truncated]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("coord")
			s.Propose("a", models.RoleImplementer, "aaaa")
			s.Propose("b", models.RoleImplementer, "bbbb")
			s.Propose("c", models.RoleImplementer, "cccc")

			taken := s.TakeProposals(tt.max)
			var from []string
			for _, p := range taken {
				from = append(from, p.From)
			}
			if strings.Join(from, ",") != strings.Join(tt.wantFrom, ",") {
				t.Errorf("taken from %v, want %v", from, tt.wantFrom)
			}
			if len(taken) > 0 && taken[0].Content != tt.wantFirst {
				t.Errorf("first content = %q, want %q", taken[0].Content, tt.wantFirst)
			}
			if got := s.Pending(); got != tt.wantLeft {
				t.Errorf("Pending() = %d, want %d", got, tt.wantLeft)
			}
		})
	}
}

func TestConcurrentReadersSeeCommittedSnapshots(t *testing.T) {
	s := New("coord")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := s.Snapshot()
				if snap.Version > 0 && !strings.HasPrefix(snap.Content, "line") {
					t.Errorf("observed partial snapshot %q", snap.Content)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if _, err := s.Append("coord", "line\n"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	wg.Wait()
	if s.Snapshot().Version != 50 {
		t.Errorf("Version = %d, want 50", s.Snapshot().Version)
	}
}

func TestPersistersAndHooks(t *testing.T) {
	s := New("coord")
	dir := t.TempDir()
	mirror := filepath.Join(dir, "documentation.md")
	s.AddPersister(MirrorFile{Path: mirror})

	var diffs []Diff
	s.OnCommit(func(d Diff) { diffs = append(diffs, d) })

	if _, err := s.Replace("coord", "hello"); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	content, err := LoadMirror(mirror)
	if err != nil || content != "hello" {
		t.Errorf("mirror = %q, %v", content, err)
	}
	if len(diffs) != 1 || diffs[0].Mode != models.DocReplace || diffs[0].Current != 5 {
		t.Errorf("diffs = %+v", diffs)
	}

	failing := PersistFunc(func(Snapshot) error { return errors.New("disk full") })
	s.AddPersister(failing)
	snap, err := s.Append("coord", "more")
	if !errors.Is(err, ErrPersist) {
		t.Errorf("error = %v, want ErrPersist", err)
	}
	if snap.Version != 2 || s.Snapshot().Version != 2 {
		t.Error("commit should stand even when a persister fails")
	}
}

func TestLoadMirror_Missing(t *testing.T) {
	content, err := LoadMirror(filepath.Join(t.TempDir(), "none.md"))
	if err != nil || content != "" {
		t.Errorf("LoadMirror() = %q, %v", content, err)
	}
}

func TestRestore(t *testing.T) {
	s := New("coord")
	s.Restore(Snapshot{Version: 7, Content: "restored"})
	snap, err := s.Append("coord", "next")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if snap.Version != 8 || snap.Content != "restored\nnext" {
		t.Errorf("snapshot = %+v", snap)
	}
}
