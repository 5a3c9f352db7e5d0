// Package correlation tracks in-flight requests by correlation id and hands
// each response back to the caller that is waiting for it.
package correlation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fund3/omega-go/internal/protocol"
)

var (
	// ErrDuplicateCorrelation signals an id-space bug in the caller; it never
	// affects connection state.
	ErrDuplicateCorrelation = errors.New("correlation: duplicate correlation id")

	// ErrTimeout resolves a pending request whose deadline passed with no
	// response from the counterparty.
	ErrTimeout = errors.New("correlation: request timed out")
)

// Result is what a completion receives: the response envelope on success or
// the error that resolved the request.
type Result struct {
	Envelope protocol.Envelope
	Err      error
}

// Completion is invoked exactly once per registered request, from whichever
// goroutine resolves it (read loop, expiry sweep, or disconnect).
type Completion func(Result)

type pendingRequest struct {
	id       uint64
	sentAt   time.Time
	deadline time.Time
	complete Completion
}

// Registry is the single shared mutable structure between caller goroutines
// and the read loop. Entries are removed exactly once; resolving an absent
// id is a no-op so late or duplicate responses are dropped, not errored.
type Registry struct {
	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	nextID  atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[uint64]*pendingRequest),
	}
}

// NextID returns a fresh correlation id, unique for the lifetime of this
// registry. Ids start at 1; 0 is reserved for uncorrelated envelopes.
func (r *Registry) NextID() uint64 {
	return r.nextID.Add(1)
}

// Register records a request awaiting its response.
func (r *Registry) Register(id uint64, deadline time.Time, complete Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateCorrelation, id)
	}
	r.pending[id] = &pendingRequest{
		id:       id,
		sentAt:   time.Now(),
		deadline: deadline,
		complete: complete,
	}
	return nil
}

// Resolve completes the pending request matching the envelope's correlation
// id. Returns false when no such request is pending.
func (r *Registry) Resolve(env protocol.Envelope) bool {
	req := r.take(env.CorrelationID)
	if req == nil {
		return false
	}
	req.complete(Result{Envelope: env})
	return true
}

// Fail completes the pending request with an error. Returns false when no
// such request is pending.
func (r *Registry) Fail(id uint64, err error) bool {
	req := r.take(id)
	if req == nil {
		return false
	}
	req.complete(Result{Err: err})
	return true
}

// FailAll drains every pending request and completes each with err. Used on
// disconnect so no caller blocks across a connection loss.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	drained := make([]*pendingRequest, 0, len(r.pending))
	for _, req := range r.pending {
		drained = append(drained, req)
	}
	r.pending = make(map[uint64]*pendingRequest)
	r.mu.Unlock()

	for _, req := range drained {
		req.complete(Result{Err: err})
	}
	return len(drained)
}

// ExpireOverdue completes every request whose deadline is at or before now
// with ErrTimeout, leaving the rest untouched.
func (r *Registry) ExpireOverdue(now time.Time) int {
	r.mu.Lock()
	var overdue []*pendingRequest
	for id, req := range r.pending {
		if !req.deadline.After(now) {
			overdue = append(overdue, req)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, req := range overdue {
		req.complete(Result{Err: ErrTimeout})
	}
	return len(overdue)
}

// Len returns the number of requests currently pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// take removes and returns the pending request for id. Removal under the
// lock is what makes completion exactly-once: only one caller can win.
func (r *Registry) take(id uint64) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return req
}
