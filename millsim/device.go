// Package millsim implements the device side of the mill link protocol:
// a simulated MCU that grants sessions, executes catalog commands against
// an in-memory machine model, and pushes telemetry and events.
//
// It serves two purposes. Integration tests attach a Device to one end of a
// transport.Pipe and drive a real client against it, and the bench CLI runs
// one behind a --sim flag so the presentation layer can be exercised without
// hardware. Fault injection hooks (dropped acks, corrupted frames, revoked
// sessions) cover the failure paths a live mill produces rarely and never on
// demand.
package millsim

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

// Ack detail codes the simulated MCU reports. Zero means no detail.
const (
	detailNoSession   uint16 = 0x0001
	detailBadSession  uint16 = 0x0002
	detailRunActive   uint16 = 0x0003
	detailNoRun       uint16 = 0x0004
	detailBadArgument uint16 = 0x0005
)

// latchedAlarmMask selects the alarm bits CLEAR_WARNINGS must not touch.
// The low half of alarm_bits carries self-clearing warnings, the high half
// latched alarms.
const latchedAlarmMask uint32 = 0xFFFF0000

const readChunkSize = 512

// Option configures a Device.
type Option func(*Device)

// WithLeaseMs sets the session lease granted on OPEN_SESSION, milliseconds.
func WithLeaseMs(lease uint16) Option {
	return func(d *Device) {
		if lease > 0 {
			d.leaseMs = lease
		}
	}
}

// WithTelemetryInterval sets the period of the telemetry push.
func WithTelemetryInterval(interval time.Duration) Option {
	return func(d *Device) {
		if interval > 0 {
			d.telemetryInterval = interval
		}
	}
}

// WithRunDuration sets how long a started run takes to complete.
func WithRunDuration(duration time.Duration) Option {
	return func(d *Device) {
		if duration > 0 {
			d.runDuration = duration
		}
	}
}

// WithControllers replaces the default temperature controller set.
func WithControllers(controllers ...mlp.ControllerSample) Option {
	return func(d *Device) {
		d.controllers = controllers
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// Device is a simulated mill MCU bound to one transport.Conn. Create it
// with NewDevice, then Start it; it owns the conn and closes it on Stop.
type Device struct {
	conn   transport.Conn
	logger logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	taskMgr *mlp.TaskManager

	leaseMs           uint16
	telemetryInterval time.Duration
	runDuration       time.Duration

	// sendMu serializes frame writes from the ack and telemetry paths and
	// guards the device frame sequence.
	sendMu sync.Mutex
	seq    uint16

	rbuf  []byte
	chunk []byte

	// mu guards the machine model below.
	mu          sync.Mutex
	started     time.Time
	sessionID   uint32
	nextSession uint32
	lastSeen    time.Time
	diBits      uint16
	roBits      uint16
	alarmBits   uint32
	controllers []mlp.ControllerSample
	run         *mlp.RunState
	resumeState mlp.MachineState

	dropAcks    atomic.Bool
	corruptNext atomic.Bool
}

// NewDevice creates a simulated MCU on conn. The device does not touch the
// conn until Start.
func NewDevice(conn transport.Conn, opts ...Option) *Device {
	d := &Device{
		conn:              conn,
		logger:            logger.GetLogger(),
		leaseMs:           10000,
		telemetryInterval: 50 * time.Millisecond,
		runDuration:       60 * time.Second,
		chunk:             make([]byte, readChunkSize),
		controllers: []mlp.ControllerSample{
			{ID: 1, PVx10: 231, SVx10: -1500, Mode: mlp.ControllerStop, AgeMs: 120},
			{ID: 2, PVx10: 228, SVx10: -1960, Mode: mlp.ControllerStop, AgeMs: 120},
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start launches the receive loop and the telemetry push.
func (d *Device) Start() error {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.taskMgr = mlp.NewTaskManager(d.ctx, d.logger)

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	if err := d.taskMgr.StartReceiver("simReceiverTask", d.receiverTask, nil); err != nil {
		return err
	}

	if _, err := d.taskMgr.StartInterval("simTelemetryTask", d.telemetryTask, d.telemetryInterval, false); err != nil {
		d.taskMgr.Stop()
		return err
	}

	return nil
}

// Stop closes the conn and waits for the loops to exit.
func (d *Device) Stop() {
	d.cancel()
	d.taskMgr.Stop()
	_ = d.conn.Close()
	d.taskMgr.Wait()
}

// DropAcks makes the device execute commands but swallow the acks, the way
// a lossy link does. The client sees timeouts on commands that were applied.
func (d *Device) DropAcks(drop bool) {
	d.dropAcks.Store(drop)
}

// CorruptNextFrame flips a CRC byte on the next outgoing frame.
func (d *Device) CorruptNextFrame() {
	d.corruptNext.Store(true)
}

// RevokeSession forgets the granted session, as a rebooted MCU would. The
// next session-scoped command is refused with REJECTED_POLICY.
func (d *Device) RevokeSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = 0
}

// SessionID returns the granted session ID, zero when none is live.
func (d *Device) SessionID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Relays returns the relay output bits, bit n for relay n+1.
func (d *Device) Relays() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roBits
}

// Controller returns a copy of the controller with the given ID.
func (d *Device) Controller(id uint8) (mlp.ControllerSample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.controllers {
		if d.controllers[i].ID == id {
			return d.controllers[i], true
		}
	}
	return mlp.ControllerSample{}, false
}

// MachineState returns the run machine state, MachineIdle when no run exists.
func (d *Device) MachineState() mlp.MachineState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.run == nil {
		return mlp.MachineIdle
	}
	return d.run.State
}

// AlarmBits returns the current alarm bits.
func (d *Device) AlarmBits() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alarmBits
}

// RaiseAlarms ORs bits into the alarm word. Bits under latchedAlarmMask
// stay set until CLEAR_LATCHED_ALARMS.
func (d *Device) RaiseAlarms(bits uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarmBits |= bits
}

// SetDI drives 1-based digital input n, simulating a door switch or sensor.
func (d *Device) SetDI(n int, on bool) {
	if n < 1 || n > 16 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if on {
		d.diBits |= 1 << (n - 1)
	} else {
		d.diBits &^= 1 << (n - 1)
	}
}

// EmitEvent pushes an EVENT frame.
func (d *Device) EmitEvent(id uint16, severity mlp.Severity, source uint8, data []byte) error {
	ev := &mlp.Event{ID: id, Severity: severity, Source: source, Data: data}
	return d.sendFrame(mlp.MsgTypeEvent, ev.EncodePayload())
}

// PushTelemetry sends one snapshot immediately, outside the regular period.
func (d *Device) PushTelemetry() error {
	return d.sendFrame(mlp.MsgTypeTelemetry, d.snapshot().EncodePayload())
}

func (d *Device) receiverTask() bool {
	frame, err := d.readFrame()
	if err != nil {
		if !errors.Is(err, transport.ErrClosed) && !errors.Is(err, io.EOF) {
			d.logger.Error("millsim: link read failed", "error", err)
		}
		return false
	}

	if frame.Type != mlp.MsgTypeCommand {
		d.logger.Warn("millsim: unexpected frame type", "msgType", frame.Type.String())
		return true
	}

	d.handleCommand(frame)
	return true
}

func (d *Device) telemetryTask() bool {
	d.advance()

	if err := d.PushTelemetry(); err != nil {
		return false
	}
	return true
}

// readFrame scans one frame out of the byte stream, dropping garbage bytes
// the way the client side does.
func (d *Device) readFrame() (*mlp.Frame, error) {
	for {
		if frame := d.scan(); frame != nil {
			return frame, nil
		}

		n, err := d.conn.Read(d.chunk)
		if n > 0 {
			d.rbuf = append(d.rbuf, d.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (d *Device) scan() *mlp.Frame {
	for len(d.rbuf) >= mlp.HeaderLen {
		payloadLen, err := mlp.PayloadLen(d.rbuf)
		if err != nil {
			d.rbuf = d.rbuf[1:]
			continue
		}

		total := mlp.MinFrameLen + payloadLen
		if len(d.rbuf) < total {
			return nil
		}

		frame, err := mlp.DecodeFrame(d.rbuf[:total])
		if err != nil {
			d.rbuf = d.rbuf[1:]
			continue
		}

		d.rbuf = d.rbuf[total:]
		return frame
	}

	return nil
}

// handleCommand executes one COMMAND frame against the machine model and
// acks it. Commands whose ack is dropped by fault injection still execute;
// a real MCU applies the command before the ack leaves the radio.
func (d *Device) handleCommand(frame *mlp.Frame) {
	id, _, args, err := mlp.DecodeCommandHeader(frame.Payload)
	if err != nil {
		d.sendAck(frame.Seq, 0, mlp.AckInvalidArgs, detailBadArgument, nil)
		return
	}

	status, detail, data := d.execute(id, args)

	d.logger.Debug("millsim: command executed",
		"cmd", id.String(),
		"seq", frame.Seq,
		"status", status.String())

	d.sendAck(frame.Seq, id, status, detail, data)

	// the snapshot follows the ack, out of the regular period
	if id == mlp.CmdRequestSnapshot && status == mlp.AckOK {
		_ = d.PushTelemetry()
	}
}

// execute applies one command under the policy gate: everything except
// OPEN_SESSION needs a live, unexpired session.
func (d *Device) execute(id mlp.CommandID, args []byte) (mlp.AckStatus, uint16, []byte) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if id.NeedsSession() && !d.sessionLive(now) {
		return mlp.AckRejectedPolicy, detailNoSession, nil
	}

	switch id {
	case mlp.CmdOpenSession:
		if len(args) < 4 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		d.nextSession++
		d.sessionID = d.nextSession
		d.lastSeen = now
		return mlp.AckOK, 0, mlp.EncodeSessionGrant(d.sessionID, d.leaseMs)

	case mlp.CmdKeepalive:
		if len(args) < 4 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if binary.LittleEndian.Uint32(args) != d.sessionID {
			return mlp.AckRejectedPolicy, detailBadSession, nil
		}
		d.lastSeen = now
		return mlp.AckOK, 0, nil

	case mlp.CmdSetRelay:
		if len(args) < 2 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		index := args[0]
		if index < 1 || index > 8 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if args[1] != 0 {
			d.roBits |= 1 << (index - 1)
		} else {
			d.roBits &^= 1 << (index - 1)
		}
		return mlp.AckOK, 0, nil

	case mlp.CmdSetRelayMask:
		if len(args) < 2 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		mask, values := uint16(args[0]), uint16(args[1])
		d.roBits = (d.roBits &^ mask) | (values & mask)
		return mlp.AckOK, 0, nil

	case mlp.CmdSetSV:
		if len(args) < 3 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c := d.controller(args[0])
		if c == nil {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c.SVx10 = int16(binary.LittleEndian.Uint16(args[1:3])) //nolint:gosec
		return mlp.AckOK, 0, nil

	case mlp.CmdSetMode:
		if len(args) < 2 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c := d.controller(args[0])
		if c == nil || args[1] > uint8(mlp.ControllerManual) {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c.Mode = mlp.ControllerMode(args[1])
		return mlp.AckOK, 0, nil

	case mlp.CmdRequestPVSVRefresh:
		if len(args) < 1 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c := d.controller(args[0])
		if c == nil {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		c.AgeMs = 0
		return mlp.AckOK, 0, nil

	case mlp.CmdRequestSnapshot:
		return mlp.AckOK, 0, nil

	case mlp.CmdClearWarnings:
		d.alarmBits &^= ^latchedAlarmMask
		return mlp.AckOK, 0, nil

	case mlp.CmdClearLatchedAlarms:
		d.alarmBits &^= latchedAlarmMask
		return mlp.AckOK, 0, nil

	case mlp.CmdStartRun:
		if len(args) < 5 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if binary.LittleEndian.Uint32(args) != d.sessionID {
			return mlp.AckRejectedPolicy, detailBadSession, nil
		}
		if args[4] > uint8(mlp.RunModeDry) {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if d.run != nil && d.run.State.Running() {
			return mlp.AckNotReady, detailRunActive, nil
		}
		run := &mlp.RunState{
			State:       mlp.MachineMilling,
			RemainingMs: uint32(d.runDuration.Milliseconds()), //nolint:gosec
			RecipeStep:  1,
		}
		if len(d.controllers) > 0 {
			run.TargetTempX10 = d.controllers[0].SVx10
		}
		d.run = run
		return mlp.AckOK, 0, nil

	case mlp.CmdStopRun:
		if len(args) < 5 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if binary.LittleEndian.Uint32(args) != d.sessionID {
			return mlp.AckRejectedPolicy, detailBadSession, nil
		}
		if d.run == nil {
			return mlp.AckNotReady, detailNoRun, nil
		}
		d.run = nil
		return mlp.AckOK, 0, nil

	case mlp.CmdPauseRun:
		if len(args) < 4 {
			return mlp.AckInvalidArgs, detailBadArgument, nil
		}
		if binary.LittleEndian.Uint32(args) != d.sessionID {
			return mlp.AckRejectedPolicy, detailBadSession, nil
		}
		if d.run == nil || !d.run.State.Running() {
			return mlp.AckNotReady, detailNoRun, nil
		}
		if d.run.State == mlp.MachinePaused {
			d.run.State = d.resumeState
		} else {
			d.resumeState = d.run.State
			d.run.State = mlp.MachinePaused
		}
		return mlp.AckOK, 0, nil

	default:
		return mlp.AckInvalidArgs, detailBadArgument, nil
	}
}

// controller returns the mutable controller record with the given ID.
// Caller holds mu.
func (d *Device) controller(id uint8) *mlp.ControllerSample {
	for i := range d.controllers {
		if d.controllers[i].ID == id {
			return &d.controllers[i]
		}
	}
	return nil
}

// sessionLive reports whether a session is granted and inside its lease.
// Caller holds mu.
func (d *Device) sessionLive(now time.Time) bool {
	if d.sessionID == 0 {
		return false
	}
	return now.Sub(d.lastSeen) <= time.Duration(d.leaseMs)*time.Millisecond
}

// advance moves the machine model one telemetry period forward: running
// controllers creep toward their setpoint and an active run burns time.
func (d *Device) advance() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.controllers {
		c := &d.controllers[i]
		if c.Mode != mlp.ControllerRun || c.PVx10 == c.SVx10 {
			continue
		}
		if c.PVx10 < c.SVx10 {
			c.PVx10++
		} else {
			c.PVx10--
		}
	}

	r := d.run
	if r == nil || r.State == mlp.MachinePaused || !r.State.Running() {
		return
	}

	step := uint32(d.telemetryInterval.Milliseconds()) //nolint:gosec
	r.ElapsedMs += step
	if r.RemainingMs <= step {
		r.RemainingMs = 0
		r.State = mlp.MachineComplete
	} else {
		r.RemainingMs -= step
	}
}

// snapshot builds the current telemetry payload. The run state trailer is
// present only while a run exists, like firmware that predates the trailer.
func (d *Device) snapshot() *mlp.TelemetrySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := &mlp.TelemetrySnapshot{
		TimestampMs: uint32(time.Since(d.started).Milliseconds()), //nolint:gosec
		DIBits:      d.diBits,
		ROBits:      d.roBits,
		AlarmBits:   d.alarmBits,
		Controllers: append([]mlp.ControllerSample(nil), d.controllers...),
	}

	if d.run != nil {
		run := *d.run
		run.InterlockBits = uint8(d.diBits) //nolint:gosec
		snap.Run = &run
	}

	return snap
}

func (d *Device) sendAck(ackedSeq uint16, cmdID mlp.CommandID, status mlp.AckStatus, detail uint16, data []byte) {
	if d.dropAcks.Load() {
		d.logger.Debug("millsim: ack dropped by fault injection", "ackedSeq", ackedSeq)
		return
	}

	ack := &mlp.CommandAck{
		AckedSeq: ackedSeq,
		CmdID:    cmdID,
		Status:   status,
		Detail:   detail,
		Data:     data,
	}

	if err := d.sendFrame(mlp.MsgTypeCommandAck, ack.EncodePayload()); err != nil {
		d.logger.Warn("millsim: ack send failed", "error", err)
	}
}

func (d *Device) sendFrame(msgType mlp.MsgType, payload []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.seq++
	buf, err := mlp.EncodeFrame(msgType, d.seq, payload)
	if err != nil {
		return err
	}

	if d.corruptNext.CompareAndSwap(true, false) {
		buf[len(buf)-1] ^= 0xFF
	}

	if _, err := d.conn.Write(buf); err != nil {
		return err
	}
	return nil
}
