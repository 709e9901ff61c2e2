package mlp

import (
	"encoding/binary"
	"fmt"
)

// AckStatus is the MCU verdict carried in a COMMAND_ACK payload.
type AckStatus uint8

const (
	AckOK                AckStatus = 0
	AckRejectedPolicy    AckStatus = 1
	AckInvalidArgs       AckStatus = 2
	AckBusy              AckStatus = 3
	AckHwFault           AckStatus = 4
	AckNotReady          AckStatus = 5
	AckTimeoutDownstream AckStatus = 6
)

// String returns string representation of the ack status.
func (s AckStatus) String() string {
	switch s {
	case AckOK:
		return "OK"
	case AckRejectedPolicy:
		return "REJECTED_POLICY"
	case AckInvalidArgs:
		return "INVALID_ARGS"
	case AckBusy:
		return "BUSY"
	case AckHwFault:
		return "HW_FAULT"
	case AckNotReady:
		return "NOT_READY"
	case AckTimeoutDownstream:
		return "TIMEOUT_DOWNSTREAM"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Err maps the status to its sentinel error, or nil for AckOK. Unknown
// statuses map to ErrRejectedPolicy so that new MCU refusal codes fail closed
// instead of passing as success.
func (s AckStatus) Err() error {
	switch s {
	case AckOK:
		return nil
	case AckRejectedPolicy:
		return ErrRejectedPolicy
	case AckInvalidArgs:
		return ErrInvalidArgs
	case AckBusy:
		return ErrBusy
	case AckHwFault:
		return ErrHwFault
	case AckNotReady:
		return ErrNotReady
	case AckTimeoutDownstream:
		return ErrTimeoutDownstream
	default:
		return ErrRejectedPolicy
	}
}

const ackHeaderLen = 7

// CommandAck is the decoded payload of a COMMAND_ACK frame. AckedSeq is the
// frame sequence of the COMMAND being answered; correlation runs on it, not
// on the ack frame's own sequence. Data carries status-specific extra bytes,
// such as the session grant answering OPEN_SESSION.
type CommandAck struct {
	AckedSeq uint16
	CmdID    CommandID
	Status   AckStatus
	Detail   uint16
	Data     []byte
}

// DecodeCommandAck parses a COMMAND_ACK payload:
// acked_seq(2) + cmd_id(2) + status(1) + detail(2) + data, little-endian.
func DecodeCommandAck(payload []byte) (*CommandAck, error) {
	if len(payload) < ackHeaderLen {
		return nil, ErrPayloadTruncated
	}

	ack := &CommandAck{
		AckedSeq: binary.LittleEndian.Uint16(payload[0:2]),
		CmdID:    CommandID(binary.LittleEndian.Uint16(payload[2:4])),
		Status:   AckStatus(payload[4]),
		Detail:   binary.LittleEndian.Uint16(payload[5:7]),
	}
	if len(payload) > ackHeaderLen {
		ack.Data = append([]byte(nil), payload[ackHeaderLen:]...)
	}

	return ack, nil
}

// EncodePayload builds the wire payload of the ack. The client never sends
// acks; this is for device-side implementations and tests.
func (a *CommandAck) EncodePayload() []byte {
	buf := make([]byte, ackHeaderLen, ackHeaderLen+len(a.Data))
	binary.LittleEndian.PutUint16(buf[0:2], a.AckedSeq)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(a.CmdID))
	buf[4] = byte(a.Status)
	binary.LittleEndian.PutUint16(buf[5:7], a.Detail)

	return append(buf, a.Data...)
}

const sessionGrantLen = 6

// SessionGrant is the data block of a successful OPEN_SESSION ack.
type SessionGrant struct {
	SessionID uint32
	LeaseMs   uint16
}

// SessionGrant extracts the grant from an OPEN_SESSION ack. It fails with
// ErrNoSessionGrant when the ack is not a successful OPEN_SESSION answer or
// the data block is too short to hold a grant.
func (a *CommandAck) SessionGrant() (*SessionGrant, error) {
	if a.CmdID != CmdOpenSession || a.Status != AckOK || len(a.Data) < sessionGrantLen {
		return nil, ErrNoSessionGrant
	}

	return &SessionGrant{
		SessionID: binary.LittleEndian.Uint32(a.Data[0:4]),
		LeaseMs:   binary.LittleEndian.Uint16(a.Data[4:6]),
	}, nil
}

// EncodeSessionGrant builds the data block of an OPEN_SESSION grant for
// device-side implementations.
func EncodeSessionGrant(sessionID uint32, leaseMs uint16) []byte {
	buf := make([]byte, sessionGrantLen)
	binary.LittleEndian.PutUint32(buf[0:4], sessionID)
	binary.LittleEndian.PutUint16(buf[4:6], leaseMs)

	return buf
}
