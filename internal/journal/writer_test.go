package journal

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fund3/omega-go/internal/protocol"
)

func testWriter(cfg Config) *Writer {
	return NewWriter(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransform(t *testing.T) {
	env := protocol.Envelope{
		CorrelationID: 42,
		Kind:          protocol.KindResponse,
		SessionID:     "S1",
		Payload:       []byte("hello"),
	}
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	e := transform("client-1", DirectionInbound, env, now)

	if e.ID == uuid.Nil {
		t.Error("transform assigned the nil uuid")
	}
	if e.Instance != "client-1" {
		t.Errorf("Instance = %q, want %q", e.Instance, "client-1")
	}
	if e.Direction != DirectionInbound {
		t.Errorf("Direction = %q, want %q", e.Direction, DirectionInbound)
	}
	if e.Kind != "response" {
		t.Errorf("Kind = %q, want %q", e.Kind, "response")
	}
	if e.CorrelationID != 42 {
		t.Errorf("CorrelationID = %d, want 42", e.CorrelationID)
	}
	if !e.RecordedAt.Equal(now) {
		t.Errorf("RecordedAt = %v, want %v", e.RecordedAt, now)
	}

	// The entry must own its payload.
	env.Payload[0] = 'X'
	if string(e.Payload) != "hello" {
		t.Errorf("Payload = %q after caller mutation, want %q", e.Payload, "hello")
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	w := testWriter(Config{Instance: "client-1", BatchSize: 100, BufferSize: 2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.RecordOutbound(protocol.Envelope{Kind: protocol.KindRequest})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordOutbound blocked on a full buffer")
	}

	if dropped := w.Stats().Dropped; dropped != 8 {
		t.Errorf("Stats().Dropped = %d, want 8", dropped)
	}
}

func TestDrainInput(t *testing.T) {
	w := testWriter(Config{Instance: "client-1", BatchSize: 100, BufferSize: 10})

	w.RecordInbound(protocol.Envelope{Kind: protocol.KindFill, Payload: []byte("a")})
	w.RecordOutbound(protocol.Envelope{Kind: protocol.KindRequest, Payload: []byte("b")})
	w.drainInput()

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 2 {
		t.Fatalf("batch holds %d entries after drain, want 2", len(w.batch))
	}
	if w.batch[0].Direction != DirectionInbound || w.batch[1].Direction != DirectionOutbound {
		t.Errorf("batch directions = %q, %q, want in, out", w.batch[0].Direction, w.batch[1].Direction)
	}
}
