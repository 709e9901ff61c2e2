package capture

import (
	"sync"

	"github.com/cryogrind/go-mlp/transport"
)

// Tap wraps a transport connection and copies every transfer crossing it into
// a capture writer. Capture failures never disturb the link: the first one is
// retained and readable through Err.
type Tap struct {
	conn transport.Conn
	w    *Writer

	mu  sync.Mutex
	err error
}

// NewTap returns a connection wrapper capturing all traffic on conn into w.
func NewTap(conn transport.Conn, w *Writer) *Tap {
	return &Tap{conn: conn, w: w}
}

// Read reads from the wrapped connection and captures the received bytes.
func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if n > 0 {
		t.keep(t.w.WriteFrame(DirRx, p[:n]))
	}

	return n, err
}

// Write writes to the wrapped connection and captures the sent bytes.
func (t *Tap) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if n > 0 {
		t.keep(t.w.WriteFrame(DirTx, p[:n]))
	}

	return n, err
}

// Close closes the wrapped connection.
func (t *Tap) Close() error {
	return t.conn.Close()
}

// Err returns the first capture failure, if any. Link errors are returned by
// Read and Write themselves.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *Tap) keep(err error) {
	if err == nil {
		return
	}

	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

var _ transport.Conn = (*Tap)(nil)
