package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestPipeDelivery(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frame, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(frame, []byte("hello")) {
		t.Errorf("Receive = %q, want %q", frame, "hello")
	}
}

func TestPipeCloseUnblocksBothEnds(t *testing.T) {
	a, b := Pipe()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive()
		errCh <- err
	}()

	a.Close()

	if err := <-errCh; !errors.Is(err, ErrClosed) {
		t.Errorf("Receive error = %v, want ErrClosed", err)
	}
	if err := a.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send error = %v, want ErrClosed", err)
	}
}

func TestPipeDrainsInFlightFramesAfterClose(t *testing.T) {
	a, b := Pipe()

	if err := a.Send([]byte("last")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	a.Close()

	frame, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(frame, []byte("last")) {
		t.Errorf("Receive = %q, want %q", frame, "last")
	}
}
