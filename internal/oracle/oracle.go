// Package oracle adapts decision functions to the engine. An oracle turns a
// context payload into raw text that should contain exactly one JSON action;
// its output is untrusted and always parsed and validated by the engine.
package oracle

import (
	"context"

	"github.com/ShayCichocki/arbor/internal/contextasm"
)

// Oracle produces the next raw action for a worker.
type Oracle interface {
	NextAction(ctx context.Context, payload *contextasm.Payload) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, payload *contextasm.Payload) (string, error)

// NextAction calls f.
func (f Func) NextAction(ctx context.Context, payload *contextasm.Payload) (string, error) {
	return f(ctx, payload)
}
