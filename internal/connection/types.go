package connection

import (
	"sync"
	"time"

	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
)

// Config holds session manager settings.
type Config struct {
	Address                string        // counterparty endpoint passed to the dialer
	HeartbeatInterval      time.Duration // cadence of outbound heartbeats
	HeartbeatMissThreshold int           // consecutive silent intervals tolerated before faulting
	RequestTimeout         time.Duration // default deadline for correlated requests
	SessionRefreshLead     time.Duration // how far ahead of expiry to renew the session
	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	MaxReconnectAttempts   int           // 0 = retry forever
	ExpirySweepInterval    time.Duration // cadence of pending-request deadline sweeps
}

// Default values for optional configuration fields.
const (
	DefaultHeartbeatInterval      = 10 * time.Second
	DefaultHeartbeatMissThreshold = 2
	DefaultRequestTimeout         = 5 * time.Second
	DefaultSessionRefreshLead     = 30 * time.Second
	DefaultReconnectInitialDelay  = 1 * time.Second
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultExpirySweepInterval    = 250 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatMissThreshold == 0 {
		c.HeartbeatMissThreshold = DefaultHeartbeatMissThreshold
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SessionRefreshLead == 0 {
		c.SessionRefreshLead = DefaultSessionRefreshLead
	}
	if c.ReconnectInitialDelay == 0 {
		c.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.ExpirySweepInterval == 0 {
		c.ExpirySweepInterval = DefaultExpirySweepInterval
	}
	return c
}

// Session is the authenticated, time-bounded relationship established by
// Logon and extended by SessionRefresh. Zero value means no session.
type Session struct {
	ID           string
	ExpiresAt    time.Time
	LastActivity time.Time
}

// heartbeatState tracks liveness of the current connection. Reset on any
// inbound traffic, not just heartbeats.
type heartbeatState struct {
	lastSent     time.Time
	lastReceived time.Time
	missed       int
}

// link is one physical connection. A new link (with a new generation) is
// created per connect attempt so loops from a dead connection cannot touch
// its successor.
type link struct {
	conn transport.Conn
	gen  uint64
	done chan struct{}
	once sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// TrafficRecorder observes envelope traffic, e.g. for the audit journal.
// Implementations must not block.
type TrafficRecorder interface {
	RecordOutbound(env protocol.Envelope)
	RecordInbound(env protocol.Envelope)
}
