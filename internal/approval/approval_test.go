package approval

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/arbor/pkg/models"
)

func TestGateway_RoundTrip(t *testing.T) {
	g := NewGateway()
	done := make(chan Response, 1)
	go func() {
		resp, err := g.RequestTermination(context.Background(), TerminationRequest{
			From: models.PhaseUnderstanding, To: models.PhaseStructuring, Reason: "documented",
		})
		if err != nil {
			t.Errorf("RequestTermination() error = %v", err)
		}
		done <- resp
	}()

	var req TerminationRequest
	select {
	case req = <-g.Requests():
	case <-time.After(2 * time.Second):
		t.Fatal("no request published")
	}
	if len(g.Pending()) != 1 {
		t.Errorf("Pending() = %d, want 1", len(g.Pending()))
	}
	if err := g.Respond(Response{RequestID: req.ID, Approved: true}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	resp := <-done
	if !resp.Approved || resp.RequestID != req.ID {
		t.Errorf("response = %+v", resp)
	}
	if len(g.Pending()) != 0 {
		t.Errorf("Pending() after response = %d", len(g.Pending()))
	}
}

func TestGateway_UnknownAndCancel(t *testing.T) {
	g := NewGateway()
	if err := g.Respond(Response{RequestID: "missing"}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Respond() error = %v, want ErrUnknownRequest", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.RequestTermination(ctx, TerminationRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("RequestTermination() error = %v, want context.Canceled", err)
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence(Response{Approved: false, Reason: "not yet"}, Response{Approved: true})
	ctx := context.Background()

	r1, _ := s.RequestTermination(ctx, TerminationRequest{ID: "1"})
	r2, _ := s.RequestTermination(ctx, TerminationRequest{ID: "2"})
	r3, _ := s.RequestTermination(ctx, TerminationRequest{ID: "3"})
	if r1.Approved || r1.Reason != "not yet" || !r2.Approved || r3.Approved {
		t.Errorf("responses = %+v %+v %+v", r1, r2, r3)
	}
	if len(s.Requests()) != 3 {
		t.Errorf("Requests() = %d", len(s.Requests()))
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		input    string
		approved bool
		reason   string
	}{
		{"y\n", true, ""},
		{"YES\n", true, ""},
		{"n\nmore detail on errors\n", false, "more detail on errors"},
		{"\n\n", false, ""},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		term := NewTerminal(strings.NewReader(tt.input), &out)
		resp, err := term.RequestTermination(context.Background(), TerminationRequest{
			ID: "r", From: models.PhaseStructuring, To: models.PhaseImplementing, Reason: "scaffolded",
		})
		if err != nil {
			t.Fatalf("RequestTermination(%q) error = %v", tt.input, err)
		}
		if resp.Approved != tt.approved || resp.Reason != tt.reason {
			t.Errorf("RequestTermination(%q) = %+v", tt.input, resp)
		}
		if !strings.Contains(out.String(), "scaffolded") {
			t.Errorf("output = %q, want reason shown", out.String())
		}
	}
}
