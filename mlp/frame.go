package mlp

import (
	"encoding/binary"
	"fmt"

	"github.com/cryogrind/go-mlp/internal/util"
)

// MsgType identifies the kind of payload a frame carries.
type MsgType uint8

// Frame message types.
const (
	// MsgTypeTelemetry is a periodic state snapshot pushed by the MCU.
	MsgTypeTelemetry MsgType = 0x01
	// MsgTypeCommand is a client request carrying a catalog command.
	MsgTypeCommand MsgType = 0x10
	// MsgTypeCommandAck is the MCU acknowledgement of a command.
	MsgTypeCommandAck MsgType = 0x11
	// MsgTypeEvent is an asynchronous MCU notification.
	MsgTypeEvent MsgType = 0x20
)

// IsValid reports whether t is one of the defined message types.
func (t MsgType) IsValid() bool {
	switch t {
	case MsgTypeTelemetry, MsgTypeCommand, MsgTypeCommandAck, MsgTypeEvent:
		return true
	default:
		return false
	}
}

// String returns string representation of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgTypeTelemetry:
		return "telemetry"
	case MsgTypeCommand:
		return "command"
	case MsgTypeCommandAck:
		return "command-ack"
	case MsgTypeEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Frame geometry. All multi-byte fields are little-endian.
const (
	// ProtoVersion is the protocol version this package implements.
	ProtoVersion uint8 = 1

	// HeaderLen is the fixed frame header size:
	// version(1) + type(1) + seq(2) + payload length(2).
	HeaderLen = 6

	crcLen = 2

	// MinFrameLen is the size of a frame with an empty payload.
	MinFrameLen = HeaderLen + crcLen

	// MaxPayloadLen bounds the payload length a frame may declare, so that a
	// corrupted length field can never drive a large allocation or convince a
	// stream scanner to swallow unbounded garbage.
	MaxPayloadLen = 1024

	// MaxFrameLen is the size of the largest well-formed frame.
	MaxFrameLen = HeaderLen + MaxPayloadLen + crcLen
)

// Frame is a decoded MLP frame. It exists only if the CRC trailer verified;
// the checksum itself is therefore not carried.
type Frame struct {
	Version uint8
	Type    MsgType
	Seq     uint16
	Payload []byte
}

// EncodeFrame builds the wire form of a frame: header, payload, and CRC
// trailer. It returns ErrPayloadTooLarge if payload exceeds MaxPayloadLen.
func EncodeFrame(msgType MsgType, seq uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderLen+len(payload)+crcLen)
	buf[0] = ProtoVersion
	buf[1] = byte(msgType)
	binary.LittleEndian.PutUint16(buf[2:4], seq)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload))) //nolint:gosec
	copy(buf[HeaderLen:], payload)

	crc := CRC16(buf[:HeaderLen+len(payload)])
	binary.LittleEndian.PutUint16(buf[HeaderLen+len(payload):], crc)

	return buf, nil
}

// PayloadLen extracts and validates the declared payload length from a frame
// header prefix. header must hold at least HeaderLen bytes. It is used by
// stream transports to find frame boundaries before the full frame arrives.
//
// It returns ErrFrameTooShort, ErrFrameVersion, or ErrPayloadTooLarge when the
// header cannot begin a well-formed frame.
func PayloadLen(header []byte) (int, error) {
	if len(header) < HeaderLen {
		return 0, ErrFrameTooShort
	}
	if header[0] != ProtoVersion {
		return 0, ErrFrameVersion
	}

	payloadLen := int(binary.LittleEndian.Uint16(header[4:6]))
	if payloadLen > MaxPayloadLen {
		return 0, ErrPayloadTooLarge
	}

	return payloadLen, nil
}

// DecodeFrame decodes a complete frame from data.
//
// It fails closed: any truncation, length inconsistency, or checksum failure
// returns an error and no frame. The returned frame owns its payload; data may
// be reused by the caller afterwards.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < MinFrameLen {
		return nil, ErrFrameTooShort
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[4:6]))
	if payloadLen > MaxPayloadLen {
		return nil, ErrFrameLengthMismatch
	}
	if len(data) != HeaderLen+payloadLen+crcLen {
		return nil, ErrFrameLengthMismatch
	}

	crcOffset := HeaderLen + payloadLen
	want := binary.LittleEndian.Uint16(data[crcOffset:])
	if CRC16(data[:crcOffset]) != want {
		return nil, ErrFrameCRC
	}

	if data[0] != ProtoVersion {
		return nil, ErrFrameVersion
	}

	return &Frame{
		Version: data[0],
		Type:    MsgType(data[1]),
		Seq:     binary.LittleEndian.Uint16(data[2:4]),
		Payload: util.CloneSlice(data[HeaderLen:crcOffset], 0),
	}, nil
}
