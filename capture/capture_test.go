package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

func TestCaptureRoundTrip(t *testing.T) {
	require := require.New(t)

	event := mlp.Event{ID: 0x0101, Severity: mlp.SeverityWarn, Source: 2}
	rxFrame, err := mlp.EncodeFrame(mlp.MsgTypeEvent, 7, event.EncodePayload())
	require.NoError(err)

	payload, err := mlp.EncodeCommand(&mlp.SetRelay{Index: 3, On: true}, 0)
	require.NoError(err)
	txFrame, err := mlp.EncodeFrame(mlp.MsgTypeCommand, 8, payload)
	require.NoError(err)

	var buf bytes.Buffer
	w := NewWriter(&buf)

	now := time.UnixMilli(1_700_000_000_000)
	w.now = func() time.Time { return now }

	require.NoError(w.WriteFrame(DirRx, rxFrame))
	now = now.Add(250 * time.Millisecond)
	require.NoError(w.WriteFrame(DirTx, txFrame))

	r := NewReader(&buf)

	rec, err := r.Next()
	require.NoError(err)
	require.Equal(DirRx, rec.Dir)
	require.Equal(rxFrame, rec.Raw)
	require.Equal(time.UnixMilli(1_700_000_000_000), rec.Time())

	// Captured frames decode back through the regular codec.
	frame, err := mlp.DecodeFrame(rec.Raw)
	require.NoError(err)
	require.Equal(mlp.MsgTypeEvent, frame.Type)
	require.Equal(uint16(7), frame.Seq)

	rec, err = r.Next()
	require.NoError(err)
	require.Equal(DirTx, rec.Dir)
	require.Equal(txFrame, rec.Raw)
	require.Equal(int64(1_700_000_000_250), rec.TimestampMs)

	_, err = r.Next()
	require.ErrorIs(err, io.EOF)
}

func TestReaderTruncatedStream(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(w.WriteFrame(DirRx, bytes.Repeat([]byte{0x5A}, 64)))

	r := NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	_, err := r.Next()
	require.Error(err)
	require.NotErrorIs(err, io.EOF)
}

func TestTapCapturesBothDirections(t *testing.T) {
	require := require.New(t)

	near, far := transport.Pipe()
	defer far.Close()

	var buf bytes.Buffer
	tap := NewTap(near, NewWriter(&buf))

	event := mlp.Event{ID: 0x0001}
	rxFrame, err := mlp.EncodeFrame(mlp.MsgTypeEvent, 1, event.EncodePayload())
	require.NoError(err)
	_, err = far.Write(rxFrame)
	require.NoError(err)

	p := make([]byte, 256)
	n, err := tap.Read(p)
	require.NoError(err)
	require.Equal(rxFrame, p[:n])

	txFrame, err := mlp.EncodeFrame(mlp.MsgTypeCommand, 2, []byte{0x01, 0x01, 0x00, 0x00})
	require.NoError(err)
	_, err = tap.Write(txFrame)
	require.NoError(err)

	m, err := far.Read(p)
	require.NoError(err)
	require.Equal(txFrame, p[:m])

	require.NoError(tap.Err())

	r := NewReader(&buf)

	rec, err := r.Next()
	require.NoError(err)
	require.Equal(DirRx, rec.Dir)
	require.Equal(rxFrame, rec.Raw)

	rec, err = r.Next()
	require.NoError(err)
	require.Equal(DirTx, rec.Dir)
	require.Equal(txFrame, rec.Raw)

	require.NoError(tap.Close())
	_, err = far.Read(p)
	require.ErrorIs(err, transport.ErrClosed)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("capture disk full") }

func TestTapCaptureFailureKeepsLink(t *testing.T) {
	require := require.New(t)

	near, far := transport.Pipe()
	defer near.Close()
	defer far.Close()

	tap := NewTap(near, NewWriter(failWriter{}))

	event := mlp.Event{ID: 0x0002}
	frame, err := mlp.EncodeFrame(mlp.MsgTypeEvent, 9, event.EncodePayload())
	require.NoError(err)
	_, err = far.Write(frame)
	require.NoError(err)

	// The link stays usable, only the capture error is retained.
	p := make([]byte, 256)
	n, err := tap.Read(p)
	require.NoError(err)
	require.Equal(frame, p[:n])

	require.EqualError(tap.Err(), "capture disk full")

	_, err = tap.Write(frame)
	require.NoError(err)
	require.EqualError(tap.Err(), "capture disk full")
}
