package connection

import (
	"context"
	"time"

	"github.com/fund3/omega-go/internal/correlation"
	"github.com/fund3/omega-go/internal/protocol"
)

// Sender is the per-caller request facade. Multiple senders may share one
// Manager; correlation ids come from the manager's registry, so they stay
// globally unique across senders on the same connection.
type Sender struct {
	mgr *Manager
}

// NewSender creates a sender bound to the manager.
func NewSender(m *Manager) *Sender {
	return &Sender{mgr: m}
}

// SendRequest submits a request and blocks until the response, the timeout,
// a connection loss, or ctx cancellation. timeout 0 uses the manager's
// default. The response envelope is returned for Reject kinds too, alongside
// ErrRejected, so callers can inspect the reason payload.
func (s *Sender) SendRequest(ctx context.Context, payload []byte, timeout time.Duration) (protocol.Envelope, error) {
	if !s.mgr.State().sendable() {
		return protocol.Envelope{}, ErrNotConnected
	}
	if timeout == 0 {
		timeout = s.mgr.RequestTimeout()
	}

	registry := s.mgr.Registry()
	id := registry.NextID()
	done := make(chan correlation.Result, 1)
	if err := registry.Register(id, time.Now().Add(timeout), func(res correlation.Result) {
		done <- res
	}); err != nil {
		return protocol.Envelope{}, err
	}

	env := protocol.Envelope{CorrelationID: id, Kind: protocol.KindRequest, Payload: payload}
	if err := s.mgr.Send(env); err != nil {
		registry.Fail(id, err)
		<-done
		return protocol.Envelope{}, err
	}

	select {
	case res := <-done:
		return resultToResponse(res)
	case <-ctx.Done():
		registry.Fail(id, ctx.Err())
		res := <-done
		if res.Err != nil {
			return protocol.Envelope{}, res.Err
		}
		// The response won the race against cancellation.
		return resultToResponse(res)
	}
}

// SendRequestAsync submits a request and returns immediately; onComplete is
// invoked exactly once with the response or the resolving error. Returns the
// assigned correlation id.
func (s *Sender) SendRequestAsync(payload []byte, timeout time.Duration, onComplete func(protocol.Envelope, error)) (uint64, error) {
	if !s.mgr.State().sendable() {
		return 0, ErrNotConnected
	}
	if timeout == 0 {
		timeout = s.mgr.RequestTimeout()
	}

	registry := s.mgr.Registry()
	id := registry.NextID()
	if err := registry.Register(id, time.Now().Add(timeout), func(res correlation.Result) {
		onComplete(resultToResponse(res))
	}); err != nil {
		return 0, err
	}

	env := protocol.Envelope{CorrelationID: id, Kind: protocol.KindRequest, Payload: payload}
	if err := s.mgr.Send(env); err != nil {
		registry.Fail(id, err)
		return id, err
	}
	return id, nil
}

// SendFireAndForget submits a request with no correlation tracking; no
// response is expected or routed back.
func (s *Sender) SendFireAndForget(payload []byte) error {
	return s.mgr.Send(protocol.Envelope{Kind: protocol.KindRequest, Payload: payload})
}

func resultToResponse(res correlation.Result) (protocol.Envelope, error) {
	if res.Err != nil {
		return protocol.Envelope{}, res.Err
	}
	if res.Envelope.Kind == protocol.KindReject {
		return res.Envelope, ErrRejected
	}
	return res.Envelope, nil
}
