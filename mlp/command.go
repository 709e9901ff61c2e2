package mlp

import (
	"encoding/binary"
	"fmt"
)

// CommandID identifies a command in the closed catalog.
type CommandID uint16

// The command catalog. IDs in the 0x00xx band act directly on I/O or
// maintenance state; IDs in the 0x01xx band manage or consume a session.
const (
	CmdSetRelay           CommandID = 0x0001
	CmdSetRelayMask       CommandID = 0x0002
	CmdSetSV              CommandID = 0x0020
	CmdSetMode            CommandID = 0x0021
	CmdRequestPVSVRefresh CommandID = 0x0022
	CmdRequestSnapshot    CommandID = 0x0030
	CmdClearWarnings      CommandID = 0x0031
	CmdClearLatchedAlarms CommandID = 0x0032
	CmdOpenSession        CommandID = 0x0100
	CmdKeepalive          CommandID = 0x0101
	CmdStartRun           CommandID = 0x0102
	CmdStopRun            CommandID = 0x0103
	CmdPauseRun           CommandID = 0x0104
)

// String returns string representation of the command ID.
func (id CommandID) String() string {
	switch id {
	case CmdSetRelay:
		return "SET_RELAY"
	case CmdSetRelayMask:
		return "SET_RELAY_MASK"
	case CmdSetSV:
		return "SET_SV"
	case CmdSetMode:
		return "SET_MODE"
	case CmdRequestPVSVRefresh:
		return "REQUEST_PV_SV_REFRESH"
	case CmdRequestSnapshot:
		return "REQUEST_SNAPSHOT_NOW"
	case CmdClearWarnings:
		return "CLEAR_WARNINGS"
	case CmdClearLatchedAlarms:
		return "CLEAR_LATCHED_ALARMS"
	case CmdOpenSession:
		return "OPEN_SESSION"
	case CmdKeepalive:
		return "KEEPALIVE"
	case CmdStartRun:
		return "START_RUN"
	case CmdStopRun:
		return "STOP_RUN"
	case CmdPauseRun:
		return "PAUSE_RUN"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(id))
	}
}

// NeedsSession reports whether the MCU requires a live session before it
// accepts this command. Every command except OPEN_SESSION does; the client
// refuses to send them without one instead of burning a round trip.
func (id CommandID) NeedsSession() bool {
	return id != CmdOpenSession
}

// RunMode selects the behavior of START_RUN.
type RunMode uint8

const (
	// RunModeNormal runs the loaded recipe with cryogen cooling.
	RunModeNormal RunMode = 0
	// RunModeDry runs the recipe motions without cryogen, for commissioning.
	RunModeDry RunMode = 1
)

// StopMode selects the behavior of STOP_RUN.
type StopMode uint8

const (
	// StopModeGraceful finishes the current phase before stopping.
	StopModeGraceful StopMode = 0
	// StopModeImmediate stops the drive at once.
	StopModeImmediate StopMode = 1
)

// Command is one entry of the closed command catalog. The set of
// implementations is fixed: every command the protocol knows is a struct in
// this package, and the dispatch over them is an exhaustive type switch, not
// reflection. External packages cannot add commands.
type Command interface {
	// CommandID returns the catalog ID of the command.
	CommandID() CommandID

	// validate checks argument ranges before encoding.
	validate() error

	// appendPayload appends the command-specific payload bytes to dst.
	appendPayload(dst []byte) []byte
}

// EncodeCommand builds the payload of a COMMAND frame:
// cmd_id(2) + flags(2) + command payload, all little-endian.
//
// flags is reserved and must be zero in this protocol generation; the client
// layer always passes 0.
func EncodeCommand(cmd Command, flags uint16) ([]byte, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 4, 4+8)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cmd.CommandID()))
	binary.LittleEndian.PutUint16(buf[2:4], flags)

	return cmd.appendPayload(buf), nil
}

// DecodeCommandHeader splits a COMMAND payload into its catalog ID, flags,
// and command-specific argument bytes. The client never parses commands; this
// is for device-side implementations and tests.
func DecodeCommandHeader(payload []byte) (CommandID, uint16, []byte, error) {
	if len(payload) < 4 {
		return 0, 0, nil, ErrPayloadTruncated
	}

	id := CommandID(binary.LittleEndian.Uint16(payload[0:2]))
	flags := binary.LittleEndian.Uint16(payload[2:4])

	return id, flags, payload[4:], nil
}

// OpenSession requests a new session lease. ClientNonce is echoed nowhere;
// it only makes the request unique on the wire.
type OpenSession struct {
	ClientNonce uint32
}

func (c *OpenSession) CommandID() CommandID { return CmdOpenSession }

func (c *OpenSession) validate() error { return nil }

func (c *OpenSession) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, c.ClientNonce)
}

// Keepalive refreshes the lease of an open session.
type Keepalive struct {
	SessionID uint32
}

func (c *Keepalive) CommandID() CommandID { return CmdKeepalive }

func (c *Keepalive) validate() error { return nil }

func (c *Keepalive) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, c.SessionID)
}

// StartRun starts the loaded recipe.
type StartRun struct {
	SessionID uint32
	Mode      RunMode
}

func (c *StartRun) CommandID() CommandID { return CmdStartRun }

func (c *StartRun) validate() error { return nil }

func (c *StartRun) appendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, c.SessionID)
	return append(dst, byte(c.Mode))
}

// StopRun stops the active run.
type StopRun struct {
	SessionID uint32
	Mode      StopMode
}

func (c *StopRun) CommandID() CommandID { return CmdStopRun }

func (c *StopRun) validate() error { return nil }

func (c *StopRun) appendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, c.SessionID)
	return append(dst, byte(c.Mode))
}

// PauseRun toggles the pause state of the active run. The MCU flips between
// paused and running; the client never tracks the toggle locally because the
// run state trailer in telemetry is authoritative.
type PauseRun struct {
	SessionID uint32
}

func (c *PauseRun) CommandID() CommandID { return CmdPauseRun }

func (c *PauseRun) validate() error { return nil }

func (c *PauseRun) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, c.SessionID)
}

// SetRelay drives a single output relay. Index is 1-based; the mill exposes
// relays 1 through 8.
type SetRelay struct {
	Index uint8
	On    bool
}

func (c *SetRelay) CommandID() CommandID { return CmdSetRelay }

func (c *SetRelay) validate() error {
	if c.Index < 1 || c.Index > 8 {
		return ErrRelayIndex
	}
	return nil
}

func (c *SetRelay) appendPayload(dst []byte) []byte {
	state := byte(0)
	if c.On {
		state = 1
	}
	return append(dst, c.Index, state)
}

// SetRelayMask drives several relays atomically. Bit n of Mask selects relay
// n+1; the matching bit of Values is the desired state.
type SetRelayMask struct {
	Mask   uint8
	Values uint8
}

func (c *SetRelayMask) CommandID() CommandID { return CmdSetRelayMask }

func (c *SetRelayMask) validate() error { return nil }

func (c *SetRelayMask) appendPayload(dst []byte) []byte {
	return append(dst, c.Mask, c.Values)
}

// SetSV writes a temperature controller setpoint in tenths of a degree.
type SetSV struct {
	Controller uint8
	SVx10      int16
}

func (c *SetSV) CommandID() CommandID { return CmdSetSV }

func (c *SetSV) validate() error { return nil }

func (c *SetSV) appendPayload(dst []byte) []byte {
	dst = append(dst, c.Controller)
	return binary.LittleEndian.AppendUint16(dst, uint16(c.SVx10)) //nolint:gosec
}

// SetMode switches a temperature controller run mode.
type SetMode struct {
	Controller uint8
	Mode       ControllerMode
}

func (c *SetMode) CommandID() CommandID { return CmdSetMode }

func (c *SetMode) validate() error { return nil }

func (c *SetMode) appendPayload(dst []byte) []byte {
	return append(dst, c.Controller, byte(c.Mode))
}

// RequestPVSVRefresh asks the MCU to poll a controller for fresh PV/SV values
// ahead of its regular scan.
type RequestPVSVRefresh struct {
	Controller uint8
}

func (c *RequestPVSVRefresh) CommandID() CommandID { return CmdRequestPVSVRefresh }

func (c *RequestPVSVRefresh) validate() error { return nil }

func (c *RequestPVSVRefresh) appendPayload(dst []byte) []byte {
	return append(dst, c.Controller)
}

// RequestSnapshot asks the MCU to emit a telemetry snapshot immediately.
type RequestSnapshot struct{}

func (c *RequestSnapshot) CommandID() CommandID { return CmdRequestSnapshot }

func (c *RequestSnapshot) validate() error { return nil }

func (c *RequestSnapshot) appendPayload(dst []byte) []byte { return dst }

// ClearWarnings clears non-latched warning bits.
type ClearWarnings struct{}

func (c *ClearWarnings) CommandID() CommandID { return CmdClearWarnings }

func (c *ClearWarnings) validate() error { return nil }

func (c *ClearWarnings) appendPayload(dst []byte) []byte { return dst }

// ClearLatchedAlarms clears latched alarm bits, subject to MCU policy.
type ClearLatchedAlarms struct{}

func (c *ClearLatchedAlarms) CommandID() CommandID { return CmdClearLatchedAlarms }

func (c *ClearLatchedAlarms) validate() error { return nil }

func (c *ClearLatchedAlarms) appendPayload(dst []byte) []byte { return dst }
