package transport

import (
	"context"
	"sync"
)

// Pipe returns a connected in-memory Conn pair. Frames sent on one end are
// received on the other. Used by tests and by the in-process simulator.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeConn{send: ab, recv: ba, done: done, closeOnce: once}
	b := &pipeConn{send: ba, recv: ab, done: done, closeOnce: once}
	return a, b
}

// pipeConn is one end of an in-memory connection. Closing either end closes
// both, matching how a dropped socket looks from each side.
type pipeConn struct {
	send      chan []byte
	recv      chan []byte
	done      chan struct{}
	closeOnce *sync.Once
}

func (c *pipeConn) Send(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Receive() ([]byte, error) {
	select {
	case frame := <-c.recv:
		return frame, nil
	case <-c.done:
		// Drain anything already in flight before reporting closure.
		select {
		case frame := <-c.recv:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// PipeDialer hands out pre-built connections, one per Dial call. It lets
// connection tests script every dial attempt, including refusals.
type PipeDialer struct {
	mu    sync.Mutex
	conns []Conn
	errs  []error

	// DialCount is incremented on every Dial call.
	DialCount int
}

// Queue appends a connection (or an error when conn is nil) for a future
// Dial call to return.
func (d *PipeDialer) Queue(conn Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conn)
	d.errs = append(d.errs, err)
}

func (d *PipeDialer) Dial(ctx context.Context, address string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DialCount++
	if len(d.conns) == 0 {
		return nil, ErrClosed
	}
	conn, err := d.conns[0], d.errs[0]
	d.conns = d.conns[1:]
	d.errs = d.errs[1:]
	if err != nil {
		return nil, err
	}
	return conn, nil
}
