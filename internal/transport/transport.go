// Package transport provides the framed duplex byte stream the session core
// runs on. Framing and TLS belong to the transport, not to the caller: Send
// writes one whole frame, Receive blocks until one whole frame arrives.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Receive once the connection is closed,
// locally or by the peer.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a single framed connection. Receive may be called by only one
// goroutine; Send is safe for concurrent use.
type Conn interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer establishes connections to a counterparty address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}
