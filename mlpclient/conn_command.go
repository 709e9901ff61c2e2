package mlpclient

import (
	"context"
	"fmt"

	"github.com/cryogrind/go-mlp/mlp"
)

// command gates, sends, and resolves one catalog command. Session-gated
// commands are rejected locally while no live session exists, so a doomed
// round trip never reaches the wire.
func (c *Connection) command(ctx context.Context, cmd mlp.Command) error {
	if cmd.CommandID().NeedsSession() && !c.session.State().IsLive() {
		return mlp.ErrSessionInvalid
	}

	ack, err := c.dispatchCommand(ctx, cmd, false)
	if err != nil {
		return err
	}

	if err := ack.Status.Err(); err != nil {
		return ackDetailErr(err, ack.Detail)
	}

	return nil
}

// ackDetailErr attaches the MCU detail code to a command outcome error. The
// sentinel stays matchable with errors.Is.
func ackDetailErr(err error, detail uint16) error {
	if detail == 0 {
		return err
	}

	return fmt.Errorf("%w (detail 0x%04x)", err, detail)
}

// SetRelay switches a single auxiliary relay. index is 1-based, 1..8.
func (c *Connection) SetRelay(ctx context.Context, index uint8, on bool) error {
	return c.command(ctx, &mlp.SetRelay{Index: index, On: on})
}

// SetRelayMask switches several relays atomically: for every set bit in
// mask, the relay takes the corresponding bit of values.
func (c *Connection) SetRelayMask(ctx context.Context, mask uint8, values uint8) error {
	return c.command(ctx, &mlp.SetRelayMask{Mask: mask, Values: values})
}

// SetSV writes a temperature controller setpoint in tenths of a degree.
func (c *Connection) SetSV(ctx context.Context, controller uint8, svX10 int16) error {
	return c.command(ctx, &mlp.SetSV{Controller: controller, SVx10: svX10})
}

// SetMode switches a temperature controller between stop, run, and manual.
func (c *Connection) SetMode(ctx context.Context, controller uint8, mode mlp.ControllerMode) error {
	return c.command(ctx, &mlp.SetMode{Controller: controller, Mode: mode})
}

// RequestPVSVRefresh asks the MCU to re-poll one controller immediately
// instead of waiting for its lazy polling cycle.
func (c *Connection) RequestPVSVRefresh(ctx context.Context, controller uint8) error {
	return c.command(ctx, &mlp.RequestPVSVRefresh{Controller: controller})
}

// RequestSnapshot asks the MCU to push a telemetry snapshot now. The
// snapshot arrives through the telemetry handlers, not through the ack.
func (c *Connection) RequestSnapshot(ctx context.Context) error {
	return c.command(ctx, &mlp.RequestSnapshot{})
}

// ClearWarnings clears non-latched warnings on the MCU.
func (c *Connection) ClearWarnings(ctx context.Context) error {
	return c.command(ctx, &mlp.ClearWarnings{})
}

// ClearLatchedAlarms clears latched alarms. The MCU refuses while the alarm
// condition is still present.
func (c *Connection) ClearLatchedAlarms(ctx context.Context) error {
	return c.command(ctx, &mlp.ClearLatchedAlarms{})
}

// StartRun starts the loaded recipe.
func (c *Connection) StartRun(ctx context.Context, mode mlp.RunMode) error {
	return c.command(ctx, &mlp.StartRun{SessionID: c.session.ID(), Mode: mode})
}

// StopRun stops the active run, gracefully or immediately.
func (c *Connection) StopRun(ctx context.Context, mode mlp.StopMode) error {
	return c.command(ctx, &mlp.StopRun{SessionID: c.session.ID(), Mode: mode})
}

// PauseRun toggles pause on the active run. The run state trailer in
// telemetry reports which side of the toggle the MCU landed on.
func (c *Connection) PauseRun(ctx context.Context) error {
	return c.command(ctx, &mlp.PauseRun{SessionID: c.session.ID()})
}
