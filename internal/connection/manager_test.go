package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fund3/omega-go/internal/protocol"
	"github.com/fund3/omega-go/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogonRequestLogoff(t *testing.T) {
	m, _, _, status := newTestManager(t, fastTestConfig(), nil)

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)

	if sess := m.Session(); sess.ID != "S1" {
		t.Errorf("Session.ID = %q, want %q", sess.ID, "S1")
	}

	sender := NewSender(m)
	resp, err := sender.SendRequest(context.Background(), []byte("X"), time.Second)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if string(resp.Payload) != "ack:X" {
		t.Errorf("response payload = %q, want %q", resp.Payload, "ack:X")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}
	if n := m.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d pending after Stop, want 0", n)
	}
	if !status.saw(StateLoggingOff) {
		t.Error("graceful Stop never passed through LoggingOff")
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	m, _, _, status := newTestManager(t, fastTestConfig(), nil)

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())
	status.waitFor(t, StateActive, 2*time.Second)

	if err := m.Start(context.Background(), testCreds); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start error = %v, want ErrAlreadyActive", err)
	}
}

func TestSendBeforeStartIsNotConnected(t *testing.T) {
	m, _, _, _ := newTestManager(t, fastTestConfig(), nil)

	err := m.Send(protocol.Envelope{Kind: protocol.KindRequest})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestLogonRejectSurfaces(t *testing.T) {
	cfg := fastTestConfig()
	cfg.MaxReconnectAttempts = 1
	m, _, _, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.rejectLogon = true
	})

	err := m.Start(context.Background(), testCreds)
	if !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("Start error = %v, want ErrSessionRejected", err)
	}
	status.waitFor(t, StateFaulted, 2*time.Second)

	m.Stop(context.Background())
}

func TestConnectionDropFailsPendingBeforeTimeout(t *testing.T) {
	cfg := fastTestConfig()
	cfg.RequestTimeout = 5 * time.Second // the drop, not the deadline, must resolve the call
	cfg.MaxReconnectAttempts = 1
	m, _, peer, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.ignoreRequests = true
	})

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)

	sender := NewSender(m)
	errCh := make(chan error, 1)
	go func() {
		_, err := sender.SendRequest(context.Background(), []byte("never answered"), 0)
		errCh <- err
	}()

	// Let the request reach the wire, then kill the connection.
	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	peer.conn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("SendRequest error = %v, want ErrConnectionLost", err)
		}
		if waited := time.Since(start); waited > time.Second {
			t.Errorf("caller waited %v after drop, want prompt resolution", waited)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendRequest still blocked after connection drop")
	}

	m.Stop(context.Background())
}

func TestHeartbeatMissFaultsAndReconnects(t *testing.T) {
	cfg := fastTestConfig()
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.HeartbeatMissThreshold = 1
	m, dialer, _, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.silentAfterLogon = true
	})
	queuePeer(dialer, nil) // healthy peer for the reconnect

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)

	status.waitFor(t, StateFaulted, 2*time.Second)
	status.waitForN(t, StateActive, 2, 2*time.Second)

	if dialer.DialCount < 2 {
		t.Errorf("DialCount = %d, want at least 2 (reconnect attempt observed)", dialer.DialCount)
	}
	if sess := m.Session(); sess.ID != "S1" {
		// The replacement peer issues its own session counter.
		t.Logf("reconnected with session %q", sess.ID)
	}

	m.Stop(context.Background())
}

func TestDecodeErrorFaultsConnection(t *testing.T) {
	cfg := fastTestConfig()
	cfg.MaxReconnectAttempts = 1
	m, _, _, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.garbageAfterLogon = true
	})

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status.waitFor(t, StateFaulted, 2*time.Second)
	m.Stop(context.Background())
}

func TestRefreshAdvancesExpiry(t *testing.T) {
	cfg := fastTestConfig()
	cfg.SessionRefreshLead = 200 * time.Millisecond
	m, _, _, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.ttl = 300 * time.Millisecond
	})

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)
	initial := m.Session().ExpiresAt

	status.waitFor(t, StateRefreshing, 2*time.Second)
	status.waitForN(t, StateActive, 2, 2*time.Second)

	if got := m.Session().ExpiresAt; !got.After(initial) {
		t.Errorf("ExpiresAt = %v, want later than initial %v", got, initial)
	}
	if got := m.State(); got != StateActive && got != StateRefreshing {
		t.Errorf("State() = %v, want active session", got)
	}

	m.Stop(context.Background())
}

func TestRefreshRejectFaults(t *testing.T) {
	cfg := fastTestConfig()
	cfg.SessionRefreshLead = 200 * time.Millisecond
	cfg.MaxReconnectAttempts = 1
	m, _, _, status := newTestManager(t, cfg, func(p *scriptedPeer) {
		p.ttl = 300 * time.Millisecond
		p.rejectRefresh = true
	})

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)

	status.waitFor(t, StateFaulted, 2*time.Second)
	m.Stop(context.Background())
}

type fillCollector struct {
	mu    sync.Mutex
	fills []string
}

func (c *fillCollector) OnFill(env protocol.Envelope) {
	c.mu.Lock()
	c.fills = append(c.fills, string(env.Payload))
	c.mu.Unlock()
}

func (c *fillCollector) OnSystemEvent(protocol.Envelope) {}
func (c *fillCollector) OnUnknown(protocol.Envelope)    {}

func (c *fillCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fills...)
}

func TestUnsolicitedFillReachesHandler(t *testing.T) {
	client, server := transport.Pipe()
	peer := newScriptedPeer(server)
	peer.start()

	dialer := &transport.PipeDialer{}
	dialer.Queue(client, nil)

	collector := &fillCollector{}
	m := NewManager(fastTestConfig(), dialer, protocol.WireCodec{}, collector, testLogger())
	status := &statusRecorder{}
	m.SetStatusListener(status.listen)

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())
	status.waitFor(t, StateActive, 2*time.Second)

	peer.pushFill([]byte("filled 10@42.5"))

	deadline := time.Now().Add(2 * time.Second)
	for len(collector.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fill never reached the handler")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := collector.snapshot()[0]; got != "filled 10@42.5" {
		t.Errorf("fill payload = %q, want %q", got, "filled 10@42.5")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m, _, _, status := newTestManager(t, fastTestConfig(), nil)

	if err := m.Start(context.Background(), testCreds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status.waitFor(t, StateActive, 2*time.Second)

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}
}
