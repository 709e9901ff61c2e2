package mlp

import (
	"encoding/binary"
	"fmt"
)

// Severity classifies an asynchronous device event.
type Severity uint8

const (
	SeverityInfo     Severity = 0
	SeverityWarn     Severity = 1
	SeverityAlarm    Severity = 2
	SeverityCritical Severity = 3
)

// String returns string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityAlarm:
		return "ALARM"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

const eventHeaderLen = 4

// Event is a decoded EVENT payload. Source identifies the MCU subsystem that
// raised the event; Data carries event-specific extra bytes and may be empty.
type Event struct {
	ID       uint16
	Severity Severity
	Source   uint8
	Data     []byte
}

// DecodeEvent parses an EVENT payload:
// event_id(2) + severity(1) + source(1) + data, little-endian.
func DecodeEvent(payload []byte) (*Event, error) {
	if len(payload) < eventHeaderLen {
		return nil, ErrPayloadTruncated
	}

	ev := &Event{
		ID:       binary.LittleEndian.Uint16(payload[0:2]),
		Severity: Severity(payload[2]),
		Source:   payload[3],
	}
	if len(payload) > eventHeaderLen {
		ev.Data = append([]byte(nil), payload[eventHeaderLen:]...)
	}

	return ev, nil
}

// EncodePayload builds the wire payload of the event. The client never sends
// events; this is for device-side implementations and tests.
func (e *Event) EncodePayload() []byte {
	buf := make([]byte, eventHeaderLen, eventHeaderLen+len(e.Data))
	binary.LittleEndian.PutUint16(buf[0:2], e.ID)
	buf[2] = byte(e.Severity)
	buf[3] = e.Source

	return append(buf, e.Data...)
}
