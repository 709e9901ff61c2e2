package transport

import (
	"sync"
)

// Pipe returns a connected pair of in-memory Conns. Bytes written to one end
// become readable on the other, chunk boundaries preserved. Each end supports
// one concurrent reader plus one concurrent writer, which is how the client
// and the simulator drive them.
func Pipe() (*PipeConn, *PipeConn) {
	a2b := make(chan []byte, 32)
	b2a := make(chan []byte, 32)

	a := &PipeConn{recv: b2a, send: a2b, closed: make(chan struct{})}
	b := &PipeConn{recv: a2b, send: b2a, closed: make(chan struct{})}
	a.peer = b
	b.peer = a

	return a, b
}

// PipeConn is one end of an in-memory connection pair.
type PipeConn struct {
	recv chan []byte
	send chan []byte
	peer *PipeConn

	closed    chan struct{}
	closeOnce sync.Once

	// leftover holds the unread tail of the last chunk, like a short read
	// from a real link
	leftover []byte
}

// Read returns the next chunk, or the remainder of a chunk a previous short
// read left behind. Chunks delivered before a close are still readable.
func (p *PipeConn) Read(b []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(b, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}

	// serve already-delivered chunks before observing any close
	select {
	case chunk := <-p.recv:
		return p.serve(b, chunk), nil
	default:
	}

	select {
	case chunk := <-p.recv:
		return p.serve(b, chunk), nil

	case <-p.closed:
		return 0, ErrClosed

	case <-p.peer.closed:
		// the peer may have written right before closing
		select {
		case chunk := <-p.recv:
			return p.serve(b, chunk), nil
		default:
		}
		return 0, ErrClosed
	}
}

func (p *PipeConn) serve(b []byte, chunk []byte) int {
	n := copy(b, chunk)
	p.leftover = chunk[n:]

	return n
}

// Write delivers an owned copy of b to the peer.
func (p *PipeConn) Write(b []byte) (int, error) {
	// observe a completed close before racing it against buffer space
	select {
	case <-p.closed:
		return 0, ErrClosed
	case <-p.peer.closed:
		return 0, ErrClosed
	default:
	}

	chunk := append([]byte(nil), b...)

	select {
	case <-p.closed:
		return 0, ErrClosed
	case <-p.peer.closed:
		return 0, ErrClosed
	case p.send <- chunk:
		return len(b), nil
	}
}

// Close shuts down this end. Blocked reads and writes on either end return
// ErrClosed.
func (p *PipeConn) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})

	return nil
}

var _ Conn = (*PipeConn)(nil)
