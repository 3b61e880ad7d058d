package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/arbor/internal/contextasm"
)

// ErrScriptExhausted is returned when no scripted response is left for a node.
var ErrScriptExhausted = errors.New("scripted oracle has no response")

// Scripted replays canned responses. Queues are keyed by node ID, by scope
// (as "scope:<path>") or by role name, and are consulted in that order.
type Scripted struct {
	mu     sync.Mutex
	queues map[string][]string
	calls  []string
}

// NewScripted creates an empty scripted oracle.
func NewScripted() *Scripted {
	return &Scripted{queues: make(map[string][]string)}
}

// Push appends raw responses to the queue for key.
func (s *Scripted) Push(key string, raw ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], raw...)
	return s
}

// ScopeKey returns the queue key for a scope.
func ScopeKey(scope string) string {
	return "scope:" + scope
}

// NextAction pops the next response for the payload's node.
func (s *Scripted) NextAction(ctx context.Context, payload *contextasm.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{payload.NodeID}
	if payload.Role.OwnsScope() {
		keys = append(keys, ScopeKey(payload.Scope))
	}
	keys = append(keys, string(payload.Role))
	for _, key := range keys {
		q := s.queues[key]
		if len(q) == 0 {
			continue
		}
		s.queues[key] = q[1:]
		s.calls = append(s.calls, payload.NodeID)
		return q[0], nil
	}
	return "", fmt.Errorf("%w for %s %s", ErrScriptExhausted, payload.Role, payload.NodeID)
}

// Remaining returns the number of unused responses.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Calls returns the node IDs served so far, in order.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// LoadScript reads a YAML or JSON script mapping queue keys to responses.
// A response may be a string or a mapping, which is encoded as JSON:
//
//	coordinator:
//	  - {action: write_documentation, content: "# Plan", mode: replace}
//	  - {action: terminate, reason: documented}
//	"scope:pkg/a.go":
//	  - '{"action":"finish","report":{"status":"pass"}}'
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var raw map[string][]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}

	s := NewScripted()
	for key, entries := range raw {
		for i, entry := range entries {
			text, err := scriptEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("script %s entry %d: %w", key, i, err)
			}
			s.Push(key, text)
		}
	}
	return s, nil
}

func scriptEntry(entry interface{}) (string, error) {
	if text, ok := entry.(string); ok {
		return text, nil
	}
	out, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
