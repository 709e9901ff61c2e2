package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens a WebSocket link to a mill debug bridge. The bridge relays
// binary messages to and from the MCU unchanged; message boundaries carry no
// meaning to the protocol.
type WSDialer struct {
	// URL is the bridge endpoint, ws:// or wss://.
	URL string
	// Username and Password are sent as HTTP Basic auth when both are set.
	Username string
	Password string
	// SkipTLSVerify disables certificate verification for wss://, for
	// bridges with self-signed certificates on the lab network.
	SkipTLSVerify bool
}

// Dial connects to the bridge.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.SkipTLSVerify, //nolint:gosec
		}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("websocket connect (HTTP %d): %w", resp.StatusCode, ErrPermissionRequired)
			}

			return nil, fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}

		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a message-oriented WebSocket to the byte-stream Conn.
type wsConn struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *wsConn) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}

	// serve buffered bytes from the last message first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// the bridge only relays the MCU stream as binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n

		return n, nil
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

var _ Dialer = (*WSDialer)(nil)
var _ Conn = (*wsConn)(nil)
