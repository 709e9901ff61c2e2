package mlp

import (
	"encoding/binary"
	"fmt"
)

// ControllerMode is the run mode of one temperature controller channel.
type ControllerMode uint8

const (
	ControllerStop   ControllerMode = 0
	ControllerRun    ControllerMode = 1
	ControllerManual ControllerMode = 2
)

// String returns string representation of the controller mode.
func (m ControllerMode) String() string {
	switch m {
	case ControllerStop:
		return "STOP"
	case ControllerRun:
		return "RUN"
	case ControllerManual:
		return "MANUAL"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// MachineState is the MCU run machine state reported in the telemetry
// run state trailer.
type MachineState uint8

const (
	MachineIdle     MachineState = 0
	MachinePrecool  MachineState = 1
	MachineMilling  MachineState = 2
	MachineHolding  MachineState = 3
	MachinePaused   MachineState = 4
	MachineComplete MachineState = 5
	MachineFault    MachineState = 6
)

// String returns string representation of the machine state.
func (s MachineState) String() string {
	switch s {
	case MachineIdle:
		return "IDLE"
	case MachinePrecool:
		return "PRECOOL"
	case MachineMilling:
		return "MILLING"
	case MachineHolding:
		return "HOLDING"
	case MachinePaused:
		return "PAUSED"
	case MachineComplete:
		return "COMPLETE"
	case MachineFault:
		return "FAULT"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Running reports whether a recipe is in progress, paused included.
func (s MachineState) Running() bool {
	switch s {
	case MachinePrecool, MachineMilling, MachineHolding, MachinePaused:
		return true
	default:
		return false
	}
}

const (
	telemetryHeaderLen  = 13
	controllerRecordLen = 10
	runStateLen         = 16
)

// ControllerSample is one temperature controller record in a telemetry
// snapshot. PV, SV and OP are fixed-point tenths; AgeMs is how stale the
// values were when the MCU built the snapshot, saturating at 65535.
type ControllerSample struct {
	ID    uint8
	PVx10 int16
	SVx10 int16
	OPx10 uint16
	Mode  ControllerMode
	AgeMs uint16
}

// PV returns the process value in engineering units.
func (c *ControllerSample) PV() float64 { return float64(c.PVx10) / 10 }

// SV returns the setpoint in engineering units.
func (c *ControllerSample) SV() float64 { return float64(c.SVx10) / 10 }

// OP returns the output power in percent.
func (c *ControllerSample) OP() float64 { return float64(c.OPx10) / 10 }

// RunState is the optional trailer of a telemetry snapshot. The MCU is the
// single authority on run progress; the client renders these values and never
// extrapolates its own.
type RunState struct {
	State          MachineState
	ElapsedMs      uint32
	RemainingMs    uint32
	TargetTempX10  int16
	RecipeStep     uint8
	InterlockBits  uint8
	LazyPollActive bool
	IdleTimeoutMin uint8
}

// TelemetrySnapshot is a decoded TELEMETRY payload. Run is nil when the MCU
// sent no run state trailer, which older firmware does.
type TelemetrySnapshot struct {
	TimestampMs uint32
	DIBits      uint16
	ROBits      uint16
	AlarmBits   uint32
	Controllers []ControllerSample
	Run         *RunState
}

// DI reports the state of 1-based digital input n.
func (t *TelemetrySnapshot) DI(n int) bool {
	if n < 1 || n > 16 {
		return false
	}
	return t.DIBits&(1<<(n-1)) != 0
}

// Relay reports the state of 1-based relay output n.
func (t *TelemetrySnapshot) Relay(n int) bool {
	if n < 1 || n > 16 {
		return false
	}
	return t.ROBits&(1<<(n-1)) != 0
}

// DecodeTelemetry parses a TELEMETRY payload. Layout, little-endian:
//
//	timestamp_ms(4) + di_bits(2) + ro_bits(2) + alarm_bits(4) + count(1)
//	count * [id(1) + pv_x10(2) + sv_x10(2) + op_x10(2) + mode(1) + age_ms(2)]
//	optional run state trailer(16)
//
// A remainder of at least 16 bytes after the controller records is decoded as
// the run state trailer. A shorter non-zero remainder is ignored so that
// frames from newer firmware with a grown trailer still decode.
func DecodeTelemetry(payload []byte) (*TelemetrySnapshot, error) {
	if len(payload) < telemetryHeaderLen {
		return nil, ErrPayloadTruncated
	}

	count := int(payload[12])
	recordsEnd := telemetryHeaderLen + count*controllerRecordLen
	if len(payload) < recordsEnd {
		return nil, ErrPayloadTruncated
	}

	snap := &TelemetrySnapshot{
		TimestampMs: binary.LittleEndian.Uint32(payload[0:4]),
		DIBits:      binary.LittleEndian.Uint16(payload[4:6]),
		ROBits:      binary.LittleEndian.Uint16(payload[6:8]),
		AlarmBits:   binary.LittleEndian.Uint32(payload[8:12]),
	}

	if count > 0 {
		snap.Controllers = make([]ControllerSample, count)
		for i := 0; i < count; i++ {
			rec := payload[telemetryHeaderLen+i*controllerRecordLen:]
			snap.Controllers[i] = ControllerSample{
				ID:    rec[0],
				PVx10: int16(binary.LittleEndian.Uint16(rec[1:3])), //nolint:gosec
				SVx10: int16(binary.LittleEndian.Uint16(rec[3:5])), //nolint:gosec
				OPx10: binary.LittleEndian.Uint16(rec[5:7]),
				Mode:  ControllerMode(rec[7]),
				AgeMs: binary.LittleEndian.Uint16(rec[8:10]),
			}
		}
	}

	if len(payload)-recordsEnd >= runStateLen {
		tr := payload[recordsEnd:]
		snap.Run = &RunState{
			State:          MachineState(tr[0]),
			ElapsedMs:      binary.LittleEndian.Uint32(tr[1:5]),
			RemainingMs:    binary.LittleEndian.Uint32(tr[5:9]),
			TargetTempX10:  int16(binary.LittleEndian.Uint16(tr[9:11])), //nolint:gosec
			RecipeStep:     tr[11],
			InterlockBits:  tr[12],
			LazyPollActive: tr[13] != 0,
			IdleTimeoutMin: tr[14],
		}
	}

	return snap, nil
}

// EncodePayload builds the wire payload of the snapshot. The client never
// sends telemetry; this is for device-side implementations and tests.
func (t *TelemetrySnapshot) EncodePayload() []byte {
	size := telemetryHeaderLen + len(t.Controllers)*controllerRecordLen
	if t.Run != nil {
		size += runStateLen
	}

	buf := make([]byte, telemetryHeaderLen, size)
	binary.LittleEndian.PutUint32(buf[0:4], t.TimestampMs)
	binary.LittleEndian.PutUint16(buf[4:6], t.DIBits)
	binary.LittleEndian.PutUint16(buf[6:8], t.ROBits)
	binary.LittleEndian.PutUint32(buf[8:12], t.AlarmBits)
	buf[12] = uint8(len(t.Controllers)) //nolint:gosec

	for i := range t.Controllers {
		c := &t.Controllers[i]
		buf = append(buf, c.ID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(c.PVx10)) //nolint:gosec
		buf = binary.LittleEndian.AppendUint16(buf, uint16(c.SVx10)) //nolint:gosec
		buf = binary.LittleEndian.AppendUint16(buf, c.OPx10)
		buf = append(buf, byte(c.Mode))
		buf = binary.LittleEndian.AppendUint16(buf, c.AgeMs)
	}

	if t.Run != nil {
		r := t.Run
		buf = append(buf, byte(r.State))
		buf = binary.LittleEndian.AppendUint32(buf, r.ElapsedMs)
		buf = binary.LittleEndian.AppendUint32(buf, r.RemainingMs)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(r.TargetTempX10)) //nolint:gosec
		lazy := byte(0)
		if r.LazyPollActive {
			lazy = 1
		}
		buf = append(buf, r.RecipeStep, r.InterlockBits, lazy, r.IdleTimeoutMin, 0)
	}

	return buf
}
