package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/arbor/internal/orchestrator"
)

// Entry is one journaled engine event.
type Entry struct {
	Seq  int64
	At   time.Time
	Type orchestrator.EventType
	Line string
}

// Journal keeps the most recent engine events for polling clients.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	next    int64
	limit   int
}

// NewJournal creates a journal holding at most limit entries.
func NewJournal(limit int) *Journal {
	if limit < 1 {
		limit = 500
	}
	return &Journal{limit: limit, next: 1}
}

// Add records ev.
func (j *Journal) Add(ev orchestrator.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{Seq: j.next, At: ev.Timestamp, Type: ev.Type, Line: ev.String()})
	j.next++
	if over := len(j.entries) - j.limit; over > 0 {
		j.entries = append([]Entry(nil), j.entries[over:]...)
	}
}

// Consume journals events until the channel closes or ctx is done. Each event
// is also passed to forward when it is non-nil.
func (j *Journal) Consume(ctx context.Context, events <-chan orchestrator.Event, forward func(orchestrator.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			j.Add(ev)
			if forward != nil {
				forward(ev)
			}
		}
	}
}

// Since returns up to max entries with a sequence number greater than seq.
func (j *Journal) Since(seq int64, max int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Last returns the sequence number of the newest entry.
func (j *Journal) Last() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.next - 1
}
