package connection

import (
	"fmt"
	"time"

	"github.com/fund3/omega-go/internal/protocol"
)

// refreshLoop renews the session ahead of its expiry for as long as the
// link is alive. One refresher runs per link; it dies with the link, so
// reconnect cycles never leave two timers behind.
func (m *Manager) refreshLoop(l *link) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		expiry := m.session.ExpiresAt
		alive := m.state.sendable() && m.link == l
		m.mu.Unlock()
		if !alive {
			return
		}

		wait := time.Until(expiry.Add(-m.cfg.SessionRefreshLead))
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-l.done:
			timer.Stop()
			return
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := m.refreshSession(l); err != nil {
			m.faultAndReconnect(l, err)
			return
		}
	}
}

// refreshSession issues one SessionRefresh round trip and advances the
// expiry from the returned grant. Rejection or timeout is fatal to the
// session.
func (m *Manager) refreshSession(l *link) error {
	m.mu.Lock()
	if m.state != StateActive || m.link != l {
		m.mu.Unlock()
		return nil
	}
	m.state = StateRefreshing
	sess := m.session.ID
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(StateActive, StateRefreshing)
	}
	m.logger.Debug("refreshing session", "session_id", sess)

	res, err := m.roundTrip(l, protocol.Envelope{
		CorrelationID: m.registry.NextID(),
		Kind:          protocol.KindSessionRefresh,
		SessionID:     sess,
	})
	if err != nil {
		return fmt.Errorf("session refresh: %w", err)
	}
	if res.Kind == protocol.KindReject {
		return fmt.Errorf("%w: refresh denied: %s", ErrSessionRejected, res.Payload)
	}

	grant, err := protocol.DecodeGrant(res.Payload)
	if err != nil {
		return fmt.Errorf("refresh grant: %w", err)
	}

	m.mu.Lock()
	var back bool
	if m.link == l {
		m.session.ExpiresAt = grant.ExpiresAt
		if grant.SessionID != "" {
			m.session.ID = grant.SessionID
		}
		if m.state == StateRefreshing {
			m.state = StateActive
			back = true
		}
	}
	listener = m.listener
	m.mu.Unlock()

	if back && listener != nil {
		listener(StateRefreshing, StateActive)
	}
	m.logger.Info("session refreshed", "expires_at", grant.ExpiresAt)
	return nil
}
