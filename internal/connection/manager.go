package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fund3/omega-go/internal/auth"
	"github.com/fund3/omega-go/internal/correlation"
	"github.com/fund3/omega-go/internal/dispatch"
	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
)

// Manager owns the transport connection, the session state machine, and the
// background read loop. It is the single reader and single writer of the
// socket; callers submit through Sender and receive responses through the
// correlation registry.
type Manager struct {
	cfg    Config
	dialer transport.Dialer
	codec  protocol.Codec
	logger *slog.Logger

	registry   *correlation.Registry
	dispatcher *dispatch.Dispatcher

	listener StatusListener
	recorder TrafficRecorder

	creds auth.Credentials

	mu           sync.Mutex
	state        State
	link         *link
	session      Session
	hb           heartbeatState
	nextGen      uint64
	stopping     bool
	reconnecting bool

	// Write serialization: all frames funnel through writeFrame.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. handler receives unsolicited
// traffic and may be nil.
func NewManager(
	cfg Config,
	dialer transport.Dialer,
	codec protocol.Codec,
	handler dispatch.Handler,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		codec:    codec,
		logger:   logger,
		registry: correlation.NewRegistry(),
	}
	m.dispatcher = dispatch.NewDispatcher(m.registry, handler, m.noteHeartbeat, logger.With("component", "dispatch"))
	return m
}

// SetStatusListener installs the state-transition observer. Call before
// Start.
func (m *Manager) SetStatusListener(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// SetRecorder installs the envelope traffic recorder. Call before Start.
func (m *Manager) SetRecorder(r TrafficRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// Registry exposes the correlation registry to the sender facade.
func (m *Manager) Registry() *correlation.Registry {
	return m.registry
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session. Zero when not logged on.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// RequestTimeout returns the default deadline applied to requests.
func (m *Manager) RequestTimeout() time.Duration {
	return m.cfg.RequestTimeout
}

// Start connects and logs on. Idempotent in the sense that a second Start
// while not disconnected fails with ErrAlreadyActive. On a failed first
// attempt the manager enters Faulted and keeps retrying in the background
// under the reconnect policy; the first attempt's error is returned so the
// caller knows the session is not up yet.
func (m *Manager) Start(ctx context.Context, creds auth.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.creds = creds
	m.stopping = false
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.dispatcher.Start()
	m.wg.Add(1)
	go m.sweepLoop()

	if err := m.connect(m.ctx); err != nil {
		m.faultAndReconnect(nil, err)
		return err
	}
	return nil
}

// Stop terminates the session: graceful Logoff when active, force close
// otherwise. Always reaches Disconnected. ctx bounds the logoff handshake.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	l := m.link
	graceful := m.state.sendable() && l != nil
	sess := m.session.ID
	m.mu.Unlock()

	if graceful {
		m.transition(StateLoggingOff)
		m.logoff(ctx, l, sess)
	}
	m.teardown()
	return nil
}

// Send writes a request envelope. Valid only while the session is active;
// the current session id is stamped onto the envelope.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	if !m.state.sendable() {
		m.mu.Unlock()
		return ErrNotConnected
	}
	l := m.link
	env.SessionID = m.session.ID
	m.mu.Unlock()

	return m.writeFrame(l, env)
}

// connect performs one dial-and-logon attempt. On error the attempted link
// is torn down and m.link is nil; the caller decides about retrying.
func (m *Manager) connect(ctx context.Context) error {
	m.transition(StateConnecting)

	conn, err := m.dialer.Dial(ctx, m.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.Address, err)
	}

	m.mu.Lock()
	m.nextGen++
	l := &link{conn: conn, gen: m.nextGen, done: make(chan struct{})}
	m.link = l
	m.hb = heartbeatState{lastReceived: time.Now()}
	m.session = Session{}
	m.mu.Unlock()

	m.transition(StateLoggingOn)

	m.wg.Add(1)
	go m.readLoop(l)

	grant, err := m.logon(l)
	if err != nil {
		m.dropLink(l)
		return err
	}

	// Commit the session and the Active state under one critical section so a
	// fault that raced the logon acknowledgement cannot be overwritten.
	now := time.Now()
	m.mu.Lock()
	if m.link != l || m.stopping {
		m.mu.Unlock()
		l.shutdown()
		return fmt.Errorf("%w: connection lost during logon", ErrConnectionLost)
	}
	old := m.state
	m.state = StateActive
	m.session = Session{ID: grant.SessionID, ExpiresAt: grant.ExpiresAt, LastActivity: now}
	m.hb.lastReceived = now
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(old, StateActive)
	}
	m.logger.Info("session established",
		"session_id", grant.SessionID,
		"expires_at", grant.ExpiresAt,
	)

	m.wg.Add(2)
	go m.heartbeatLoop(l)
	go m.refreshLoop(l)

	return nil
}

// logon sends the Logon envelope and waits for the acknowledgement carrying
// the session grant.
func (m *Manager) logon(l *link) (protocol.Grant, error) {
	res, err := m.roundTrip(l, protocol.Envelope{
		CorrelationID: m.registry.NextID(),
		Kind:          protocol.KindLogon,
		Payload:       auth.BuildLogonPayload(m.creds, time.Now()),
	})
	if err != nil {
		return protocol.Grant{}, fmt.Errorf("logon: %w", err)
	}
	if res.Kind == protocol.KindReject {
		return protocol.Grant{}, fmt.Errorf("%w: logon denied: %s", ErrSessionRejected, res.Payload)
	}

	grant, err := protocol.DecodeGrant(res.Payload)
	if err != nil {
		return protocol.Grant{}, fmt.Errorf("logon grant: %w", err)
	}
	if grant.SessionID == "" {
		return protocol.Grant{}, fmt.Errorf("%w: logon grant carries no session id", ErrSessionRejected)
	}
	return grant, nil
}

// logoff sends the Logoff envelope and waits for acknowledgement, timeout,
// or ctx expiry. Best effort: failures only shorten the goodbye.
func (m *Manager) logoff(ctx context.Context, l *link, sessionID string) {
	done := make(chan correlation.Result, 1)
	id := m.registry.NextID()
	if err := m.registry.Register(id, time.Now().Add(m.cfg.RequestTimeout), func(res correlation.Result) {
		done <- res
	}); err != nil {
		return
	}

	env := protocol.Envelope{CorrelationID: id, Kind: protocol.KindLogoff, SessionID: sessionID}
	if err := m.writeFrame(l, env); err != nil {
		m.registry.Fail(id, err)
		<-done
		return
	}

	select {
	case res := <-done:
		if res.Err != nil {
			m.logger.Debug("logoff not acknowledged", "error", res.Err)
		}
	case <-ctx.Done():
		m.registry.Fail(id, ctx.Err())
		<-done
	}
}

// roundTrip registers a correlated envelope, writes it, and blocks until a
// response, a deadline sweep, or a connection fault resolves it.
func (m *Manager) roundTrip(l *link, env protocol.Envelope) (protocol.Envelope, error) {
	done := make(chan correlation.Result, 1)
	if err := m.registry.Register(env.CorrelationID, time.Now().Add(m.cfg.RequestTimeout), func(res correlation.Result) {
		done <- res
	}); err != nil {
		return protocol.Envelope{}, err
	}

	if err := m.writeFrame(l, env); err != nil {
		m.registry.Fail(env.CorrelationID, err)
		<-done
		return protocol.Envelope{}, err
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return protocol.Envelope{}, res.Err
		}
		return res.Envelope, nil
	case <-m.ctx.Done():
		m.registry.Fail(env.CorrelationID, m.ctx.Err())
		<-done
		return protocol.Envelope{}, m.ctx.Err()
	}
}

// writeFrame encodes and writes one envelope. The write mutex is the
// single-writer discipline: frames from racing callers never interleave.
func (m *Manager) writeFrame(l *link, env protocol.Envelope) error {
	frame, err := m.codec.Encode(env)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	err = l.conn.Send(frame)
	m.writeMu.Unlock()
	if err != nil {
		return err
	}

	m.mu.Lock()
	rec := m.recorder
	m.mu.Unlock()
	if rec != nil {
		rec.RecordOutbound(env)
	}
	return nil
}

// readLoop is the sole reader of the socket. Runs until the link dies.
func (m *Manager) readLoop(l *link) {
	defer m.wg.Done()

	for {
		frame, err := l.conn.Receive()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			m.faultAndReconnect(l, fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}

		env, err := m.codec.Decode(frame)
		if err != nil {
			// Protocol desync; the connection cannot be trusted anymore.
			m.faultAndReconnect(l, err)
			return
		}

		m.noteActivity()
		m.mu.Lock()
		rec := m.recorder
		m.mu.Unlock()
		if rec != nil {
			rec.RecordInbound(env)
		}

		m.dispatcher.Enqueue(env)
	}
}

// heartbeatLoop sends heartbeats on a fixed interval and faults the
// connection once the miss threshold is exceeded.
func (m *Manager) heartbeatLoop(l *link) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if !m.state.sendable() {
			m.mu.Unlock()
			continue
		}
		if time.Since(m.hb.lastReceived) > m.cfg.HeartbeatInterval {
			m.hb.missed++
		} else {
			m.hb.missed = 0
		}
		missed := m.hb.missed
		sess := m.session.ID
		m.mu.Unlock()

		if missed > m.cfg.HeartbeatMissThreshold {
			m.faultAndReconnect(l, fmt.Errorf("%w: %d consecutive heartbeats missed", ErrConnectionLost, missed))
			return
		}

		if err := m.writeFrame(l, protocol.Envelope{Kind: protocol.KindHeartbeat, SessionID: sess}); err != nil {
			m.faultAndReconnect(l, fmt.Errorf("%w: heartbeat send: %v", ErrConnectionLost, err))
			return
		}
		m.mu.Lock()
		m.hb.lastSent = time.Now()
		m.mu.Unlock()
	}
}

// sweepLoop enforces request deadlines independent of transport activity,
// guaranteeing bounded wait even if the counterparty never replies.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.registry.ExpireOverdue(time.Now()); n > 0 {
				m.logger.Debug("expired overdue requests", "count", n)
			}
		}
	}
}

// noteActivity resets heartbeat accounting. Called for every inbound frame.
func (m *Manager) noteActivity() {
	now := time.Now()
	m.mu.Lock()
	m.hb.lastReceived = now
	m.hb.missed = 0
	if m.session.ID != "" {
		m.session.LastActivity = now
	}
	m.mu.Unlock()
}

// noteHeartbeat runs inline on the read loop for heartbeat envelopes.
func (m *Manager) noteHeartbeat(protocol.Envelope) {
	m.noteActivity()
}

// fault moves the machine to Faulted, closes the link, and resolves every
// pending request with ErrConnectionLost. Returns false when this call lost
// the race (already faulted, stopping, or a different link).
func (m *Manager) fault(l *link, cause error) bool {
	m.mu.Lock()
	if m.stopping || m.state == StateLoggingOff || m.state == StateDisconnected || m.state == StateFaulted {
		m.mu.Unlock()
		return false
	}
	if l != m.link {
		m.mu.Unlock()
		return false
	}
	old := m.state
	m.state = StateFaulted
	m.link = nil
	m.session = Session{}
	listener := m.listener
	m.mu.Unlock()

	if l != nil {
		l.shutdown()
	}
	failed := m.registry.FailAll(ErrConnectionLost)

	m.logger.Warn("connection faulted",
		"cause", cause,
		"prev_state", old.String(),
		"failed_requests", failed,
	)
	if listener != nil {
		listener(old, StateFaulted)
	}
	return true
}

// faultAndReconnect faults the link and, when this call performed the
// transition, launches the reconnect policy.
func (m *Manager) faultAndReconnect(l *link, cause error) {
	if !m.fault(l, cause) {
		return
	}

	m.mu.Lock()
	spawn := !m.stopping && !m.reconnecting
	if spawn {
		m.reconnecting = true
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if spawn {
		go m.reconnectLoop()
	}
}

// reconnectLoop drives Faulted back to Connecting with jittered exponential
// backoff, or gives up after the configured attempt budget.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		if m.cfg.MaxReconnectAttempts > 0 && attempt > m.cfg.MaxReconnectAttempts {
			m.logger.Error("giving up on reconnection", "attempts", m.cfg.MaxReconnectAttempts)
			m.giveUp()
			return
		}

		delay := backoffDelay(m.cfg.ReconnectInitialDelay, m.cfg.ReconnectMaxDelay, attempt)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.stopping || m.state != StateFaulted {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		m.logger.Info("attempting reconnection", "attempt", attempt, "delay", delay)
		err := m.connect(m.ctx)
		if err == nil {
			m.logger.Info("reconnected", "attempt", attempt)
			return
		}

		m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
		m.refault()
	}
}

// giveUp is the terminal path out of a reconnect loop that exhausted its
// attempt budget. It cannot use teardown (which waits on the goroutine
// calling it), so it releases resources directly.
func (m *Manager) giveUp() {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	m.cancel()
	m.registry.FailAll(ErrConnectionLost)
	m.dispatcher.Stop()
	m.transition(StateDisconnected)
}

// refault forces the state back to Faulted after a failed reconnect attempt
// left the machine in Connecting or LoggingOn.
func (m *Manager) refault() {
	m.mu.Lock()
	if m.stopping || m.state == StateDisconnected || m.state == StateFaulted {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateFaulted
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(old, StateFaulted)
	}
}

// dropLink detaches and closes a link that failed mid-connect.
func (m *Manager) dropLink(l *link) {
	m.mu.Lock()
	if m.link == l {
		m.link = nil
	}
	m.mu.Unlock()
	l.shutdown()
}

// teardown closes everything and lands in Disconnected.
func (m *Manager) teardown() {
	m.cancel()

	m.mu.Lock()
	l := m.link
	m.link = nil
	m.session = Session{}
	m.mu.Unlock()
	if l != nil {
		l.shutdown()
	}

	m.registry.FailAll(ErrSessionClosed)
	m.dispatcher.Stop()
	m.wg.Wait()

	m.transition(StateDisconnected)
	m.logger.Info("session manager stopped")
}

// transition updates state and notifies the listener. Used for transitions
// that need no extra bookkeeping; fault and refault handle their own.
func (m *Manager) transition(next State) {
	m.mu.Lock()
	old := m.state
	m.state = next
	listener := m.listener
	m.mu.Unlock()

	if old == next {
		return
	}
	m.logger.Debug("session state changed", "from", old.String(), "to", next.String())
	if listener != nil {
		listener(old, next)
	}
}
