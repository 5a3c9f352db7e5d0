// Package dispatch routes decoded inbound envelopes: responses back to the
// waiting caller through the correlation registry, unsolicited messages to
// the application handler.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"

	"github.com/fund3/omega-go/internal/correlation"
	"github.com/fund3/omega-go/internal/protocol"
)

// Dispatcher decouples handler execution from frame reading. Enqueue never
// blocks: envelopes land on an unbounded ring and a single worker goroutine
// drains it, so a slow application handler cannot stall the read loop or
// heartbeat processing.
type Dispatcher struct {
	registry *correlation.Registry
	handler  Handler
	logger   *slog.Logger

	// onHeartbeat runs inline on the read-loop goroutine; it must be cheap.
	onHeartbeat func(env protocol.Envelope)

	mu     sync.Mutex
	cond   *sync.Cond
	ring   *queue.Queue
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. onHeartbeat may be nil; handler may be
// nil, in which case unsolicited traffic is dropped with a log line.
func NewDispatcher(
	registry *correlation.Registry,
	handler Handler,
	onHeartbeat func(env protocol.Envelope),
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = NopHandler{}
	}
	d := &Dispatcher{
		registry:    registry,
		handler:     handler,
		logger:      logger,
		onHeartbeat: onHeartbeat,
		ring:        queue.New(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the dispatch worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.closed = false
	d.mu.Unlock()

	d.wg.Add(1)
	go d.drainLoop()
}

// Stop drains nothing further and waits for the worker to exit. Envelopes
// still queued are delivered before the worker stops.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
}

// Enqueue accepts one decoded envelope from the read loop. Heartbeats are
// consumed inline and never reach the worker.
func (d *Dispatcher) Enqueue(env protocol.Envelope) {
	if env.Kind == protocol.KindHeartbeat {
		if d.onHeartbeat != nil {
			d.onHeartbeat(env)
		}
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("dispatcher stopped, dropping envelope",
			"kind", env.Kind.String(),
			"correlation_id", env.CorrelationID,
		)
		return
	}
	d.ring.Add(env)
	d.cond.Signal()
	d.mu.Unlock()
}

// drainLoop pops envelopes in arrival order and routes each.
func (d *Dispatcher) drainLoop() {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for d.ring.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.ring.Length() == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		env := d.ring.Remove().(protocol.Envelope)
		d.mu.Unlock()

		d.route(env)
	}
}

func (d *Dispatcher) route(env protocol.Envelope) {
	switch {
	case env.Kind.Correlated():
		if !d.registry.Resolve(env) {
			d.logger.Debug("dropping late or duplicate response",
				"kind", env.Kind.String(),
				"correlation_id", env.CorrelationID,
			)
		}

	case env.Kind == protocol.KindFill:
		d.handler.OnFill(env)

	case env.Kind == protocol.KindSystemEvent:
		d.handler.OnSystemEvent(env)

	default:
		// Inbound Logon/Logoff/Request kinds are protocol noise from our
		// side of the wire; surface them like any other unknown push.
		d.handler.OnUnknown(env)
	}
}
