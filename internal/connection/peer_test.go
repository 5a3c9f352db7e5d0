package connection

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fund3/omega-go/internal/auth"
	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
)

var testCreds = auth.Credentials{ClientID: "client-1", Secret: "secret"}

// scriptedPeer plays the Omega counterparty over one end of a pipe. The
// default script accepts logons, echoes heartbeats, grants refreshes, and
// acknowledges requests.
type scriptedPeer struct {
	conn  transport.Conn
	codec protocol.WireCodec

	ttl               time.Duration
	rejectLogon       bool
	rejectRefresh     bool
	rejectRequests    bool
	silentAfterLogon  bool
	ignoreRequests    bool
	garbageAfterLogon bool

	sessions atomic.Int32
}

func newScriptedPeer(conn transport.Conn) *scriptedPeer {
	return &scriptedPeer{conn: conn, ttl: time.Hour}
}

func (p *scriptedPeer) start() {
	go p.run()
}

func (p *scriptedPeer) run() {
	for {
		frame, err := p.conn.Receive()
		if err != nil {
			return
		}
		env, err := p.codec.Decode(frame)
		if err != nil {
			return
		}
		p.handle(env)
	}
}

func (p *scriptedPeer) handle(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindLogon:
		if p.rejectLogon {
			p.send(protocol.Envelope{
				CorrelationID: env.CorrelationID,
				Kind:          protocol.KindReject,
				Payload:       []byte("logon denied"),
			})
			return
		}
		sid := fmt.Sprintf("S%d", p.sessions.Add(1))
		p.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     sid,
			Payload:       protocol.EncodeGrant(protocol.Grant{SessionID: sid, ExpiresAt: time.Now().Add(p.ttl)}),
		})
		if p.garbageAfterLogon {
			p.conn.Send([]byte{0xff, 0x01, 0x02})
		}

	case protocol.KindHeartbeat:
		if p.silentAfterLogon {
			return
		}
		p.send(protocol.Envelope{Kind: protocol.KindHeartbeat, SessionID: env.SessionID})

	case protocol.KindSessionRefresh:
		if p.silentAfterLogon {
			return
		}
		if p.rejectRefresh {
			p.send(protocol.Envelope{
				CorrelationID: env.CorrelationID,
				Kind:          protocol.KindReject,
				SessionID:     env.SessionID,
				Payload:       []byte("refresh denied"),
			})
			return
		}
		p.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     env.SessionID,
			Payload:       protocol.EncodeGrant(protocol.Grant{SessionID: env.SessionID, ExpiresAt: time.Now().Add(p.ttl)}),
		})

	case protocol.KindRequest:
		if p.silentAfterLogon || p.ignoreRequests || env.CorrelationID == 0 {
			return
		}
		if p.rejectRequests {
			p.send(protocol.Envelope{
				CorrelationID: env.CorrelationID,
				Kind:          protocol.KindReject,
				SessionID:     env.SessionID,
				Payload:       []byte("request denied"),
			})
			return
		}
		p.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     env.SessionID,
			Payload:       append([]byte("ack:"), env.Payload...),
		})

	case protocol.KindLogoff:
		p.send(protocol.Envelope{
			CorrelationID: env.CorrelationID,
			Kind:          protocol.KindResponse,
			SessionID:     env.SessionID,
		})
	}
}

func (p *scriptedPeer) send(env protocol.Envelope) {
	frame, err := p.codec.Encode(env)
	if err != nil {
		return
	}
	p.conn.Send(frame)
}

// pushFill injects an unsolicited execution report.
func (p *scriptedPeer) pushFill(payload []byte) {
	p.send(protocol.Envelope{Kind: protocol.KindFill, Payload: payload})
}

// statusRecorder collects state transitions and lets tests wait for one.
type statusRecorder struct {
	mu          sync.Mutex
	transitions []State
}

func (r *statusRecorder) listen(old, next State) {
	r.mu.Lock()
	r.transitions = append(r.transitions, next)
	r.mu.Unlock()
}

// waitFor polls until the wanted state has been observed at least n times
// total since the recorder was created.
func (r *statusRecorder) waitForN(t *testing.T, want State, n int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if r.count(want) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %v (seen %d times, want %d)", want, r.count(want), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (r *statusRecorder) waitFor(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	r.waitForN(t, want, 1, timeout)
}

func (r *statusRecorder) count(want State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.transitions {
		if s == want {
			n++
		}
	}
	return n
}

func (r *statusRecorder) saw(want State) bool {
	return r.count(want) > 0
}

// fastTestConfig keeps the background machinery quick enough for tests.
func fastTestConfig() Config {
	return Config{
		Address:               "pipe://omega",
		HeartbeatInterval:     25 * time.Millisecond,
		RequestTimeout:        500 * time.Millisecond,
		SessionRefreshLead:    time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     40 * time.Millisecond,
		MaxReconnectAttempts:  0,
		ExpirySweepInterval:   20 * time.Millisecond,
	}
}

// newTestManager wires a manager to one scripted peer over a pipe. Extra
// peers queued on the returned dialer serve reconnect attempts.
func newTestManager(t *testing.T, cfg Config, tweak func(p *scriptedPeer)) (*Manager, *transport.PipeDialer, *scriptedPeer, *statusRecorder) {
	t.Helper()

	client, server := transport.Pipe()
	peer := newScriptedPeer(server)
	if tweak != nil {
		tweak(peer)
	}
	peer.start()

	dialer := &transport.PipeDialer{}
	dialer.Queue(client, nil)

	m := NewManager(cfg, dialer, protocol.WireCodec{}, nil, testLogger())
	status := &statusRecorder{}
	m.SetStatusListener(status.listen)
	return m, dialer, peer, status
}

// queuePeer adds one more scripted peer for a future dial.
func queuePeer(dialer *transport.PipeDialer, tweak func(p *scriptedPeer)) *scriptedPeer {
	client, server := transport.Pipe()
	peer := newScriptedPeer(server)
	if tweak != nil {
		tweak(peer)
	}
	peer.start()
	dialer.Queue(client, nil)
	return peer
}
