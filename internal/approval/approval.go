// Package approval carries termination requests from the Coordinator to a
// human and the human's answer back. Phase transitions happen only on an
// explicit affirmative response.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrUnknownRequest is returned when responding to a request that is not pending.
var ErrUnknownRequest = errors.New("no pending termination request")

// TerminationRequest asks the human to approve a phase change.
type TerminationRequest struct {
	ID     string
	From   models.Phase
	To     models.Phase
	Reason string
	// Reset marks a scope reset from implementing back to understanding.
	Reset bool
	At    time.Time
}

// Response is the human's decision on a termination request.
type Response struct {
	RequestID string
	Approved  bool
	// Reason is fed back to the Coordinator on rejection.
	Reason string
}

// Approver obtains a human decision. RequestTermination blocks until the
// human answers or ctx is done.
type Approver interface {
	RequestTermination(ctx context.Context, req TerminationRequest) (Response, error)
}

// Gateway is an Approver answered asynchronously by a presentation layer.
// Requests are published on Requests() and remain pending until Respond is
// called with their ID.
type Gateway struct {
	requestCh chan TerminationRequest
	// pending maps request IDs to channels waiting for a response.
	pending map[string]chan Response
	order   []TerminationRequest
	mu      sync.RWMutex
}

// NewGateway creates a Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		requestCh: make(chan TerminationRequest, 10),
		pending:   make(map[string]chan Response),
	}
}

// Requests returns a read-only channel of new termination requests.
func (g *Gateway) Requests() <-chan TerminationRequest {
	return g.requestCh
}

// RequestTermination publishes req and blocks for the response.
func (g *Gateway) RequestTermination(ctx context.Context, req TerminationRequest) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	responseCh := make(chan Response, 1)

	g.mu.Lock()
	g.pending[req.ID] = responseCh
	g.order = append(g.order, req)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		for i, r := range g.order {
			if r.ID == req.ID {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
	}()

	// Publishing is best effort; Pending() always lists the request.
	select {
	case g.requestCh <- req:
	default:
	}

	select {
	case resp := <-responseCh:
		resp.RequestID = req.ID
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Respond answers a pending request.
func (g *Gateway) Respond(resp Response) error {
	g.mu.RLock()
	ch, ok := g.pending[resp.RequestID]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownRequest
	}
	select {
	case ch <- resp:
		return nil
	default:
		return ErrUnknownRequest
	}
}

// Pending returns the outstanding requests, oldest first.
func (g *Gateway) Pending() []TerminationRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]TerminationRequest(nil), g.order...)
}

// Auto answers every request with a fixed decision.
type Auto struct {
	Approve bool
	Reason  string

	mu       sync.Mutex
	requests []TerminationRequest
}

// RequestTermination records req and answers immediately.
func (a *Auto) RequestTermination(ctx context.Context, req TerminationRequest) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return Response{RequestID: req.ID, Approved: a.Approve, Reason: a.Reason}, nil
}

// Requests returns every request seen.
func (a *Auto) Requests() []TerminationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TerminationRequest(nil), a.requests...)
}

// Sequence answers requests with queued responses in order and rejects once
// the queue is empty.
type Sequence struct {
	mu        sync.Mutex
	responses []Response
	requests  []TerminationRequest
}

// NewSequence creates a Sequence approver.
func NewSequence(responses ...Response) *Sequence {
	return &Sequence{responses: responses}
}

// RequestTermination pops the next queued response.
func (s *Sequence) RequestTermination(ctx context.Context, req TerminationRequest) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return Response{RequestID: req.ID, Reason: "no decision available"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	resp.RequestID = req.ID
	return resp, nil
}

// Requests returns every request seen.
func (s *Sequence) Requests() []TerminationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TerminationRequest(nil), s.requests...)
}
