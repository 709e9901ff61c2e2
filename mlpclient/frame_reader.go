package mlpclient

import (
	"errors"
	"fmt"

	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

// readChunkSize is the per-read buffer size. 512 bytes is the largest
// payload a BLE GATT notification can carry, so one read normally drains
// one notification from the bridge.
const readChunkSize = 512

// frameReader scans MLP frames out of a transport byte stream.
//
// The link delivers bytes in arbitrary chunks: BLE notification boundaries
// do not line up with frame boundaries, and a corrupted byte must not wedge
// the stream. The reader accumulates bytes, locates frame boundaries with
// mlp.PayloadLen, and verifies each candidate with mlp.DecodeFrame. When a
// candidate fails (bad version, implausible length, CRC mismatch) it drops
// a single byte and rescans, so a valid frame later in the buffer is never
// lost to earlier garbage.
//
// frameReader is NOT goroutine-safe. The caller must ensure that only one
// ReadFrame call is active at a time, consistent with the single-receiver
// design of a connection.
type frameReader struct {
	conn    transport.Conn
	metrics *ConnectionMetrics
	logger  logger.Logger

	buf     []byte
	chunk   []byte
	dropped int
}

func newFrameReader(conn transport.Conn, metrics *ConnectionMetrics, l logger.Logger) *frameReader {
	return &frameReader{
		conn:    conn,
		metrics: metrics,
		logger:  l,
		chunk:   make([]byte, readChunkSize),
	}
}

// ReadFrame blocks until one well-formed frame has been scanned from the
// link. It returns an error only when the underlying transport fails;
// malformed bytes are counted, dropped, and scanned past.
//
// The returned frame owns its payload and stays valid across calls.
func (fr *frameReader) ReadFrame() (*mlp.Frame, error) {
	for {
		if frame := fr.scan(); frame != nil {
			return frame, nil
		}

		n, err := fr.conn.Read(fr.chunk)
		if n > 0 {
			fr.buf = append(fr.buf, fr.chunk[:n]...)
			continue
		}

		if err != nil {
			if len(fr.buf) > 0 {
				// The link died mid-frame; the tail can never complete.
				fr.metrics.incFrameTooShortCount()
			}

			return nil, fmt.Errorf("read link: %w", err)
		}
	}
}

// scan consumes one frame from the buffer, or returns nil when more bytes
// are needed.
func (fr *frameReader) scan() *mlp.Frame {
	for len(fr.buf) >= mlp.HeaderLen {
		payloadLen, err := mlp.PayloadLen(fr.buf)
		if err != nil {
			fr.dropByte(err)
			continue
		}

		total := mlp.MinFrameLen + payloadLen
		if len(fr.buf) < total {
			return nil
		}

		frame, err := mlp.DecodeFrame(fr.buf[:total])
		if err != nil {
			fr.dropByte(err)
			continue
		}

		fr.buf = fr.buf[total:]
		fr.metrics.incFrameRecvCount()

		if fr.dropped > 0 {
			fr.logger.Warn("mlp: resynchronized frame stream",
				"droppedBytes", fr.dropped,
				"seq", frame.Seq,
				"msgType", frame.Type.String())
			fr.dropped = 0
		}

		return frame
	}

	return nil
}

// dropByte discards the first buffered byte after a failed frame candidate
// and books the failure under the matching metric.
func (fr *frameReader) dropByte(err error) {
	switch {
	case errors.Is(err, mlp.ErrFrameCRC):
		fr.metrics.incFrameCRCCount()
	case errors.Is(err, mlp.ErrPayloadTooLarge), errors.Is(err, mlp.ErrFrameLengthMismatch):
		fr.metrics.incFrameLengthMismatchCount()
	case errors.Is(err, mlp.ErrFrameVersion):
		fr.metrics.incFrameUnexpectedCount()
	}

	fr.buf = fr.buf[1:]
	fr.dropped++
}
