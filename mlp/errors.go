package mlp

import "errors"

var (
	// ErrFrameTooShort indicates that a buffer is shorter than the minimal
	// frame of header plus CRC trailer.
	ErrFrameTooShort = errors.New("mlp: frame too short")

	// ErrFrameLengthMismatch indicates that the declared payload length does
	// not match the actual number of bytes in the frame.
	ErrFrameLengthMismatch = errors.New("mlp: frame length mismatch")

	// ErrFrameCRC indicates that the CRC trailer does not verify against the
	// frame contents.
	ErrFrameCRC = errors.New("mlp: frame CRC mismatch")

	// ErrFrameVersion indicates an unsupported protocol version byte.
	ErrFrameVersion = errors.New("mlp: unsupported protocol version")

	// ErrPayloadTooLarge indicates that a payload exceeds MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("mlp: payload exceeds maximum length")
)

var (
	// ErrPayloadTruncated indicates that a message payload ended before a
	// complete fixed-layout structure could be decoded.
	ErrPayloadTruncated = errors.New("mlp: payload truncated")

	// ErrRelayIndex indicates a relay index outside the valid range [1, 8].
	ErrRelayIndex = errors.New("mlp: relay index out of range [1, 8]")

	// ErrNoSessionGrant indicates that a command acknowledgement does not
	// carry the session grant expected on a successful OPEN_SESSION.
	ErrNoSessionGrant = errors.New("mlp: ack carries no session grant")
)

var (
	// ErrInvalidTransition is returned when an attempt is made to transition
	// the link state to a state unreachable from the current one.
	ErrInvalidTransition = errors.New("mlp: invalid link state transition")

	// ErrConfigNil indicates a nil connection configuration.
	ErrConfigNil = errors.New("mlp: connection config is nil")

	// ErrSessionInvalid indicates a command that needs a live session was
	// issued without one, or after the session lease expired. The command is
	// rejected locally and never reaches the wire.
	ErrSessionInvalid = errors.New("mlp: session invalid or expired")

	// ErrConnClosed indicates the connection has been closed.
	ErrConnClosed = errors.New("mlp: connection closed")

	// ErrSendTimeout indicates the outgoing frame queue stayed full past the
	// send timeout.
	ErrSendTimeout = errors.New("mlp: send queue timeout")
)

// Command outcome errors. These are the client-visible mappings of the
// acknowledgement status codes a mill MCU returns; AckStatus.Err selects
// among them. They are matched with errors.Is.
var (
	// ErrNoResponse indicates that no acknowledgement arrived within the
	// command timeout. The command may or may not have been applied.
	ErrNoResponse = errors.New("mlp: no response before timeout")

	// ErrRejectedPolicy indicates the MCU refused the command under its
	// current policy, typically because no live session covers it.
	ErrRejectedPolicy = errors.New("mlp: rejected by policy")

	// ErrInvalidArgs indicates the MCU rejected the command arguments.
	ErrInvalidArgs = errors.New("mlp: invalid arguments")

	// ErrBusy indicates the MCU is busy with a conflicting operation.
	ErrBusy = errors.New("mlp: device busy")

	// ErrHwFault indicates a hardware fault prevented execution.
	ErrHwFault = errors.New("mlp: hardware fault")

	// ErrNotReady indicates the machine is not in a state that allows the
	// command, for example an open interlock before a run start.
	ErrNotReady = errors.New("mlp: device not ready")

	// ErrTimeoutDownstream indicates the MCU timed out waiting on a
	// downstream bus device, such as a temperature controller.
	ErrTimeoutDownstream = errors.New("mlp: downstream device timeout")
)
