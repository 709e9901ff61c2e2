// Package transport provides the byte-stream links a mill client runs over.
//
// A Conn carries raw bytes in arbitrary chunks; framing, checksums and
// retries all live above it in mlpclient. Adapters exist for serial ports
// (a wired bench link) and WebSocket debug bridges, plus an in-memory Pipe
// for tests and the simulator. A BLE bridge on the tablet side implements
// Conn the same way by surfacing GATT notifications as reads.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrClosed is returned from Read and Write after the connection closed.
	ErrClosed = errors.New("transport: connection closed")

	// ErrPermissionRequired indicates the platform refused access to the
	// underlying device and the user has to grant it first.
	ErrPermissionRequired = errors.New("transport: permission required")
)

// Conn is a byte-stream link to the mill. Read returns whatever chunk the
// link delivered next, with no relation to frame boundaries.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a Conn. The client holds a Dialer rather than a Conn so that
// auto-reconnect can establish a fresh link after a drop.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
