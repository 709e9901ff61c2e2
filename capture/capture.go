// Package capture writes and reads MLP traffic captures. A capture is a
// stream of CBOR records, one per transfer, with integer keys to keep the
// files compact. On chunk-preserving transports every record holds exactly
// one encoded frame, so captures replay cleanly through the frame decoder.
package capture

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured transfer relative to the client.
type Direction uint8

const (
	// DirRx marks bytes received from the device.
	DirRx Direction = 0
	// DirTx marks bytes sent to the device.
	DirTx Direction = 1
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirRx:
		return "rx"
	case DirTx:
		return "tx"
	default:
		return "unknown"
	}
}

// Record is one captured transfer. Raw holds the bytes as they crossed the
// link, normally a single encoded frame including header and CRC.
type Record struct {
	TimestampMs int64     `cbor:"1,keyasint"`
	Dir         Direction `cbor:"2,keyasint"`
	Raw         []byte    `cbor:"3,keyasint"`
}

// Time returns the capture timestamp of the record.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Writer appends records to a capture stream. It is safe for concurrent use,
// the receive loop and command senders capture through the same writer.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	now func() time.Time
}

// NewWriter returns a Writer appending CBOR records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w), now: time.Now}
}

// WriteFrame appends one transfer stamped with the current time.
func (w *Writer) WriteFrame(dir Direction, raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.enc.Encode(Record{
		TimestampMs: w.now().UnixMilli(),
		Dir:         dir,
		Raw:         raw,
	})
}

// Reader iterates the records of a capture stream.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader returns a Reader consuming CBOR records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record. io.EOF signals a clean end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return Record{}, err
	}

	return rec, nil
}
