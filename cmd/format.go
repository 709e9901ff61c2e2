package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/cryogrind/go-mlp/mlp"
)

// formatX10 renders a x10 fixed-point value with one decimal.
func formatX10(v int16) string {
	return fmt.Sprintf("%.1f", float64(v)/10)
}

func formatMs(ms uint32) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// formatTelemetry renders one snapshot as a single log line.
func formatTelemetry(snap *mlp.TelemetrySnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TELEMETRY up=%s DI=%016b RO=%08b alarms=0x%08X",
		formatMs(snap.TimestampMs), snap.DIBits, snap.ROBits, snap.AlarmBits)

	for _, c := range snap.Controllers {
		fmt.Fprintf(&b, " | ctrl %d [%s] PV=%s SV=%s OP=%s age=%dms",
			c.ID, c.Mode, formatX10(c.PVx10), formatX10(c.SVx10),
			formatX10(int16(c.OPx10)), c.AgeMs)
	}

	if snap.Run != nil {
		r := snap.Run
		fmt.Fprintf(&b, " | run %s step=%d elapsed=%s remaining=%s target=%s interlock=%08b",
			r.State, r.RecipeStep, formatMs(r.ElapsedMs), formatMs(r.RemainingMs),
			formatX10(r.TargetTempX10), r.InterlockBits)
	}

	return b.String()
}

// formatEvent renders one device event as a single log line.
func formatEvent(ev *mlp.Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "EVENT 0x%04X [%s] source=%d", ev.ID, ev.Severity, ev.Source)
	if len(ev.Data) > 0 {
		fmt.Fprintf(&b, " data=0x%X", ev.Data)
	}

	return b.String()
}

// formatFrame renders a decoded frame for the log and dump commands. Frames
// whose payload fails its typed decode are still shown raw.
func formatFrame(frame *mlp.Frame) string {
	switch frame.Type {
	case mlp.MsgTypeTelemetry:
		snap, err := mlp.DecodeTelemetry(frame.Payload)
		if err != nil {
			return fmt.Sprintf("TELEMETRY seq=%d undecodable: %v", frame.Seq, err)
		}
		return formatTelemetry(snap)

	case mlp.MsgTypeEvent:
		ev, err := mlp.DecodeEvent(frame.Payload)
		if err != nil {
			return fmt.Sprintf("EVENT seq=%d undecodable: %v", frame.Seq, err)
		}
		return formatEvent(ev)

	case mlp.MsgTypeCommand:
		id, flags, args, err := mlp.DecodeCommandHeader(frame.Payload)
		if err != nil {
			return fmt.Sprintf("COMMAND seq=%d undecodable: %v", frame.Seq, err)
		}
		s := fmt.Sprintf("COMMAND seq=%d %s", frame.Seq, id)
		if flags != 0 {
			s += fmt.Sprintf(" flags=0x%04X", flags)
		}
		if len(args) > 0 {
			s += fmt.Sprintf(" args=0x%X", args)
		}
		return s

	case mlp.MsgTypeCommandAck:
		ack, err := mlp.DecodeCommandAck(frame.Payload)
		if err != nil {
			return fmt.Sprintf("ACK seq=%d undecodable: %v", frame.Seq, err)
		}
		s := fmt.Sprintf("ACK seq=%d acked=%d %s %s", frame.Seq, ack.AckedSeq, ack.CmdID, ack.Status)
		if ack.Detail != 0 {
			s += fmt.Sprintf(" detail=0x%04X", ack.Detail)
		}
		if len(ack.Data) > 0 {
			s += fmt.Sprintf(" data=0x%X", ack.Data)
		}
		return s

	default:
		return fmt.Sprintf("UNKNOWN type=0x%02X seq=%d payload=0x%X", uint8(frame.Type), frame.Seq, frame.Payload)
	}
}
