package mlpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryogrind/go-mlp/internal/pool"
	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

const (
	reconnectDelayFactor = 2

	// senderQueueTimeout bounds how long a caller blocks when the outgoing
	// frame queue is full.
	senderQueueTimeout = time.Second
)

// Connection manages one MLP link to a mill MCU: the transport, the frame
// codec tasks, the command/ack correlation, and the session lease.
//
// A Connection is created once and may be opened and closed repeatedly. With
// auto-reconnect enabled it redials a lost link with exponential backoff and,
// with auto-reopen enabled, re-establishes the command session afterwards.
type Connection struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc
	ctxMu     sync.RWMutex
	cfg       *ConnectionConfig
	logger    logger.Logger

	link      transport.Conn
	linkMutex sync.Mutex

	session *Session

	stateMgr *mlp.LinkStateMgr
	taskMgr  *mlp.TaskManager
	shutdown atomic.Bool

	seqGen     *seqGenerator
	dispatcher *dispatcher

	senderFrameChan chan *mlp.Frame

	telemetryHandlers []mlp.TelemetryHandler
	telemetryChans    []chan *mlp.TelemetrySnapshot
	eventHandlers     []mlp.EventHandler
	eventChans        []chan *mlp.Event

	reconnectScheduled atomic.Bool
	reconnectGen       atomic.Uint64
	retryDelay         time.Duration

	metrics ConnectionMetrics
}

// NewConnection creates a new Connection with the given context and
// configuration. It initializes the link state machine, task manager, and
// command dispatcher. Returns an error if the configuration is nil.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, mlp.ErrConfigNil
	}

	conn := &Connection{
		pctx:            ctx,
		cfg:             cfg,
		logger:          cfg.logger,
		seqGen:          newSeqGenerator(),
		senderFrameChan: make(chan *mlp.Frame, cfg.senderQueueSize),
		taskMgr:         mlp.NewTaskManager(ctx, cfg.logger),
		retryDelay:      cfg.reconnectInitialDelay,
	}

	conn.dispatcher = newDispatcher(&conn.metrics, cfg.logger)
	conn.session = newSession(conn)
	conn.createContext()
	conn.stateMgr = mlp.NewLinkStateMgr(ctx, cfg.logger, conn.linkStateHandler)

	return conn, nil
}

// UpdateConfigOptions applies runtime-changeable options to the connection
// configuration. Options marked as construction-only are rejected.
func (c *Connection) UpdateConfigOptions(opts ...ConnOption) error {
	var keepaliveInterval time.Duration

	for _, opt := range opts {
		connOpt, ok := opt.(*connOptFunc)
		if !ok {
			return errors.New("invalid ConnOption type")
		}

		if !connOpt.runtime {
			return fmt.Errorf("option %s cannot be changed at runtime", connOpt.name)
		}

		if connOpt.name == "WithKeepaliveInterval" {
			keepaliveInterval = c.cfg.keepaliveInterval
		}

		if err := opt.apply(c.cfg); err != nil {
			return err
		}
	}

	if keepaliveInterval != 0 && c.cfg.keepaliveInterval != keepaliveInterval {
		c.session.resetKeepaliveTicker(c.cfg.keepaliveInterval)
	}

	return nil
}

// Session returns the command session manager of this connection.
func (c *Connection) Session() *Session {
	return c.session
}

// State returns the current link state.
func (c *Connection) State() mlp.LinkState {
	return c.stateMgr.State()
}

// AddLinkStateHandler registers handlers invoked on every link state change.
func (c *Connection) AddLinkStateHandler(handlers ...mlp.LinkStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// WaitState blocks until the link reaches the given state, ctx is done, or
// the connection is closed.
func (c *Connection) WaitState(ctx context.Context, state mlp.LinkState) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close cancels the open epoch; waiters must not outlive it.
	stop := context.AfterFunc(c.getContext(), cancel)
	defer stop()

	return c.stateMgr.WaitState(wctx, state)
}

// GetLogger returns the logger associated with the connection.
func (c *Connection) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the connection.
func (c *Connection) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// OnTelemetry registers handlers for decoded telemetry snapshots. Each
// handler gets its own queue and goroutine; a slow handler drops snapshots
// instead of stalling the receiver.
//
// Handlers must be registered before Open.
func (c *Connection) OnTelemetry(handlers ...mlp.TelemetryHandler) {
	for _, handler := range handlers {
		c.telemetryChans = append(c.telemetryChans, make(chan *mlp.TelemetrySnapshot, c.cfg.telemetryQueueSize))
		c.telemetryHandlers = append(c.telemetryHandlers, handler)
	}
}

// OnEvent registers handlers for decoded device events. Each handler gets
// its own queue and goroutine.
//
// Handlers must be registered before Open.
func (c *Connection) OnEvent(handlers ...mlp.EventHandler) {
	for _, handler := range handlers {
		c.eventChans = append(c.eventChans, make(chan *mlp.Event, c.cfg.eventQueueSize))
		c.eventHandlers = append(c.eventHandlers, handler)
	}
}

// Open starts connecting to the device.
//
// If waitLive is true, it blocks until the link is fully established with an
// active session (Live state) or the open epoch is torn down. If waitLive is
// false, it initiates the connection process and returns immediately.
func (c *Connection) Open(waitLive bool) error {
	c.shutdown.Store(false)
	c.reconnectGen.Add(1)

	// PermissionRequired and LinkError hold the machine until the user acts;
	// reopening is that act.
	state := c.stateMgr.State()
	if state == mlp.PermissionRequiredState || state == mlp.LinkErrorState {
		if err := c.stateMgr.To(mlp.DisconnectedState); err != nil {
			return err
		}
	}

	c.createContext()
	c.stateMgr.ToAsync(mlp.ConnectingState)

	if waitLive {
		return c.stateMgr.WaitState(c.getContext(), mlp.LiveState)
	}

	return nil
}

// Close closes the connection gracefully. It cancels any scheduled
// reconnect, terminates all running tasks, and closes the transport link.
func (c *Connection) Close() error {
	c.shutdown.Store(true)
	c.reconnectGen.Add(1)

	err := c.stateMgr.To(mlp.DisconnectedState)

	// When the machine was already disconnected the handler did not run;
	// cancel the epoch explicitly so WaitState callers unblock.
	c.ctxMu.Lock()
	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	c.ctxMu.Unlock()

	return err
}

// createContext creates a new open-epoch context derived from the parent
// context. A canceled epoch stays canceled; reconnects start a fresh one.
func (c *Connection) createContext() {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()

	if c.ctx == nil || c.ctx.Err() != nil {
		c.ctx, c.ctxCancel = context.WithCancel(c.pctx)
	}
}

func (c *Connection) getContext() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()

	return c.ctx
}

// --- link state machine ---

func (c *Connection) linkStateHandler(prevState mlp.LinkState, curState mlp.LinkState) {
	c.logger.Debug("mlp: link state changed", "prevState", prevState, "curState", curState)

	switch curState {
	case mlp.ConnectingState:
		c.connectLink()

	case mlp.DiscoveringState:
		// Byte-stream transports carry no service discovery phase; a BLE
		// bridge performs it behind the dialer.
		c.stateMgr.ToAsync(mlp.SubscribingState)

	case mlp.SubscribingState:
		c.stateMgr.ToAsync(mlp.SessionOpeningState)

	case mlp.SessionOpeningState:
		c.openSessionFlow()

	case mlp.LiveState:
		c.retryDelay = c.cfg.reconnectInitialDelay
		c.metrics.resetConnRetryGauge()

	case mlp.DisconnectedState:
		c.handleDisconnected()

	case mlp.PermissionRequiredState, mlp.LinkErrorState:
		c.teardownLink()

	case mlp.ScanningState, mlp.DeviceSelectedState, mlp.DegradedState:
		// Driven externally (device pickers) or by the session manager.
	}
}

// connectLink dials the transport and starts the link tasks. Runs in the
// ConnectingState handler.
func (c *Connection) connectLink() {
	dialCtx, cancel := context.WithTimeout(c.getContext(), c.cfg.connectTimeout)
	defer cancel()

	link, err := c.cfg.dialer.Dial(dialCtx)
	if err != nil {
		if errors.Is(err, transport.ErrPermissionRequired) {
			c.logger.Error("mlp: link permission denied", "error", err)
			c.stateMgr.ToAsync(mlp.PermissionRequiredState)

			return
		}

		c.logger.Debug("mlp: failed to dial device", "device", c.cfg.deviceName, "error", err)
		c.metrics.incConnRetryGauge()
		c.stateMgr.ToAsync(mlp.DisconnectedState)

		return
	}

	c.linkMutex.Lock()
	c.link = link
	c.linkMutex.Unlock()

	c.logger.Info("mlp: link connected", "device", c.cfg.deviceName)

	if err := c.startLinkTasks(link); err != nil {
		c.logger.Error("mlp: failed to start link tasks", "error", err)
		c.stateMgr.ToAsync(mlp.DisconnectedState)

		return
	}

	c.stateMgr.ToAsync(mlp.DiscoveringState)
}

// startLinkTasks starts the per-link goroutines. Handler tasks and the
// sender start before the receiver, so a telemetry burst arriving right
// after subscribe already has consumers.
func (c *Connection) startLinkTasks(link transport.Conn) error {
	for i, handler := range c.telemetryHandlers {
		name := fmt.Sprintf("telemetryTask-%d", i+1)
		if err := c.taskMgr.StartRecvTelemetry(name, handler, c.telemetryChans[i]); err != nil {
			return err
		}
	}

	for i, handler := range c.eventHandlers {
		name := fmt.Sprintf("eventTask-%d", i+1)
		if err := c.taskMgr.StartRecvEvent(name, handler, c.eventChans[i]); err != nil {
			return err
		}
	}

	if err := c.taskMgr.StartSender("senderTask", c.senderTask, nil, c.senderFrameChan); err != nil {
		return err
	}

	reader := newFrameReader(link, &c.metrics, c.logger)

	return c.taskMgr.StartReceiver("receiverTask", func() bool {
		return c.receiverTask(reader)
	}, c.cancelReceiverTask)
}

// openSessionFlow establishes the command session. Runs in the
// SessionOpeningState handler, both on first connect and on a reopen after
// lease expiry.
func (c *Connection) openSessionFlow() {
	if err := c.session.open(c.getContext()); err != nil {
		c.logger.Error("mlp: failed to open session", "error", err)

		// A link that cannot grant a session is useless; recycle it through
		// the reconnect path.
		c.stateMgr.ToAsync(mlp.DisconnectedState)

		return
	}

	c.stateMgr.ToAsync(mlp.LiveState)
}

// handleDisconnected tears down the link and schedules a reconnect when
// configured. Runs in the DisconnectedState handler.
func (c *Connection) handleDisconnected() {
	c.linkMutex.Lock()
	hadLink := c.link != nil
	c.linkMutex.Unlock()

	if hadLink {
		c.closeConn(c.cfg.closeConnTimeout)
	} else {
		// Dial never succeeded; nothing to tear down, and the open epoch
		// stays alive for WaitState callers riding out dial retries.
		c.dispatcher.failAll(mlp.ErrConnClosed)
	}

	if !c.shutdown.Load() && c.cfg.AutoReconnect() {
		delay := c.retryDelay
		c.logger.Debug("mlp: scheduling reconnect", "delay", delay)

		if c.scheduleReconnect(delay) {
			nextDelay := delay * reconnectDelayFactor
			if nextDelay > c.cfg.reconnectMaxDelay {
				nextDelay = c.cfg.reconnectMaxDelay
			}
			c.retryDelay = nextDelay
		}
	}
}

// teardownLink closes the transport without scheduling a reconnect. Used for
// the states that wait on user action.
func (c *Connection) teardownLink() {
	c.linkMutex.Lock()
	hadLink := c.link != nil
	c.linkMutex.Unlock()

	if hadLink {
		c.closeConn(c.cfg.closeConnTimeout)
	} else {
		c.dispatcher.failAll(mlp.ErrConnClosed)
	}
}

func (c *Connection) scheduleReconnect(delay time.Duration) bool {
	if delay <= 0 {
		delay = c.cfg.reconnectInitialDelay
	}
	if c.shutdown.Load() {
		return false
	}
	if !c.reconnectScheduled.CompareAndSwap(false, true) {
		return false
	}

	gen := c.reconnectGen.Load()

	// Never block the link state handler.
	// NOTE: Do NOT use c.ctx here. c.ctx is canceled by closeConn() on
	// disconnect, but reconnect scheduling must survive disconnects.
	go func(ctx context.Context, d time.Duration, g uint64) {
		defer c.reconnectScheduled.Store(false)

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if c.reconnectGen.Load() != g {
				return
			}
			if c.shutdown.Load() {
				return
			}

			c.createContext()
			c.stateMgr.ToAsync(mlp.ConnectingState)
		}
	}(c.pctx, delay, gen)

	return true
}

// notifySessionState maps session lease transitions onto the link state.
// Called by the session manager; always asynchronous to keep the session
// mutex out of the state machine.
func (c *Connection) notifySessionState(prevState SessionState, curState SessionState) {
	if c.shutdown.Load() {
		return
	}

	c.logger.Debug("mlp: session state changed", "prevState", prevState, "curState", curState)

	switch curState {
	case SessionWarning:
		if c.stateMgr.IsLive() {
			c.stateMgr.ToAsync(mlp.DegradedState)
		}

	case SessionActive:
		if c.stateMgr.IsDegraded() {
			c.stateMgr.ToAsync(mlp.LiveState)
		}

	case SessionExpired:
		if c.stateMgr.IsLive() {
			c.stateMgr.ToAsync(mlp.DegradedState)
		}

		if c.cfg.AutoReopenSession() && !c.stateMgr.IsDisconnected() {
			c.stateMgr.ToAsync(mlp.SessionOpeningState)
		}

	case SessionNone, SessionOpening:
		// Driven by the connection itself.
	}
}

// closeConn performs the actual link closing process with a timeout.
// It cancels the epoch context, stops the task manager, closes the
// transport, and waits for all goroutines to terminate.
func (c *Connection) closeConn(timeout time.Duration) {
	c.logger.Debug("start closeConn process")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.ctxMu.Lock()
	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	c.ctxMu.Unlock()

	c.taskMgr.Stop()

	c.linkMutex.Lock()
	if c.link != nil {
		c.logger.Debug("close transport link", "method", "closeConn")

		if err := c.link.Close(); err != nil {
			c.logger.Error("failed to close transport link", "method", "closeConn", "error", err)
		}

		c.link = nil
	}
	c.linkMutex.Unlock()

	// drop frames queued behind the dead link and resolve their senders
drain:
	for {
		select {
		case frame := <-c.senderFrameChan:
			c.dispatcher.fail(frame.Seq, mlp.ErrConnClosed)
		default:
			break drain
		}
	}

	c.dispatcher.failAll(mlp.ErrConnClosed)
	c.session.reset()

	go func() {
		c.logger.Debug("wait all goroutines terminated, taskMgr", "method", "closeConn")
		c.taskMgr.Wait()
		c.logger.Debug("all goroutines terminated", "method", "closeConn")
		cancel()
	}()

	// wait all goroutines terminated
	<-ctx.Done()

	if errors.Is(ctx.Err(), context.Canceled) {
		c.logger.Debug("close success", "method", "closeConn")
	} else {
		c.logger.Error("close timeout", "method", "closeConn", "error", ctx.Err(), "timeout", timeout)
	}
}

// --- frame paths ---

// dispatchCommand encodes cmd into a COMMAND frame, registers it with the
// dispatcher, queues it for sending, and waits for the ack.
//
// The returned ack may carry a non-OK status. Any ack except a policy
// rejection also refreshes the session lease; a policy rejection is evidence
// against the session, not for it.
func (c *Connection) dispatchCommand(ctx context.Context, cmd mlp.Command, keepalive bool) (*mlp.CommandAck, error) {
	payload, err := mlp.EncodeCommand(cmd, 0)
	if err != nil {
		return nil, err
	}

	seq := c.seqGen.next()
	pc := c.dispatcher.register(seq, cmd.CommandID(), keepalive)

	frame := &mlp.Frame{
		Version: mlp.ProtoVersion,
		Type:    mlp.MsgTypeCommand,
		Seq:     seq,
		Payload: payload,
	}

	if err := c.queueFrame(frame); err != nil {
		c.dispatcher.fail(seq, err)

		return nil, err
	}

	if keepalive {
		c.metrics.incKeepaliveSendCount()
	} else {
		c.metrics.incCmdSendCount()
	}

	ack, err := c.dispatcher.await(ctx, pc, c.cfg.commandTimeout)
	if err != nil {
		return nil, err
	}

	if ack.Status != mlp.AckRejectedPolicy {
		c.session.touchAck()
	}

	return ack, nil
}

// queueFrame puts a frame onto the sender task's channel.
func (c *Connection) queueFrame(frame *mlp.Frame) error {
	timer := pool.GetTimer(senderQueueTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-c.getContext().Done():
		return mlp.ErrConnClosed
	case <-timer.C:
		return mlp.ErrSendTimeout
	case c.senderFrameChan <- frame:
		return nil
	}
}

// senderTask writes one outgoing frame to the link. A write failure resolves
// the waiting sender; the receiver task notices the dead link and drives the
// state machine.
func (c *Connection) senderTask(frame *mlp.Frame) bool {
	buf, err := mlp.EncodeFrame(frame.Type, frame.Seq, frame.Payload)
	if err != nil {
		c.logger.Error("mlp: failed to encode frame", "seq", frame.Seq, "error", err)
		c.dispatcher.fail(frame.Seq, err)

		return true
	}

	c.linkMutex.Lock()
	link := c.link
	c.linkMutex.Unlock()

	if link == nil {
		c.dispatcher.fail(frame.Seq, mlp.ErrConnClosed)

		return false
	}

	if _, err := link.Write(buf); err != nil {
		c.dispatcher.fail(frame.Seq, fmt.Errorf("write link: %w", err))

		if !errors.Is(err, transport.ErrClosed) {
			c.logger.Error("mlp: failed to write frame", "seq", frame.Seq, "error", err)
		}

		return false
	}

	return true
}

// cancelReceiverTask runs when the receiver goroutine exits; a dead read
// loop means a dead link.
func (c *Connection) cancelReceiverTask() {
	c.stateMgr.ToAsync(mlp.DisconnectedState)
}

// receiverTask reads one frame from the link and routes it.
func (c *Connection) receiverTask(reader *frameReader) bool {
	frame, err := reader.ReadFrame()
	if err != nil {
		if !errors.Is(err, transport.ErrClosed) && !errors.Is(err, io.EOF) {
			c.logger.Error("mlp: link read failed", "error", err)
		}

		return false
	}

	c.handleFrame(frame)

	return true
}

// handleFrame routes one decoded frame by message type.
func (c *Connection) handleFrame(frame *mlp.Frame) {
	switch frame.Type {
	case mlp.MsgTypeCommandAck:
		ack, err := mlp.DecodeCommandAck(frame.Payload)
		if err != nil {
			c.metrics.incFrameUnexpectedCount()
			c.logger.Warn("mlp: malformed ack payload", "seq", frame.Seq, "error", err)

			return
		}

		c.dispatcher.resolveAck(ack)

	case mlp.MsgTypeTelemetry:
		snapshot, err := mlp.DecodeTelemetry(frame.Payload)
		if err != nil {
			c.metrics.incFrameUnexpectedCount()
			c.logger.Warn("mlp: malformed telemetry payload", "seq", frame.Seq, "error", err)

			return
		}

		c.metrics.incTelemetryRecvCount()
		c.fanoutTelemetry(snapshot)

	case mlp.MsgTypeEvent:
		event, err := mlp.DecodeEvent(frame.Payload)
		if err != nil {
			c.metrics.incFrameUnexpectedCount()
			c.logger.Warn("mlp: malformed event payload", "seq", frame.Seq, "error", err)

			return
		}

		c.metrics.incEventRecvCount()
		c.fanoutEvent(event)

	case mlp.MsgTypeCommand:
		// The MCU never sends COMMAND frames to the client.
		c.metrics.incFrameUnexpectedCount()
		c.logger.Warn("mlp: unexpected command frame from device", "seq", frame.Seq)

	default:
		c.metrics.incFrameUnexpectedCount()
		c.logger.Warn("mlp: unknown frame type", "type", frame.Type.String(), "seq", frame.Seq)
	}
}

func (c *Connection) fanoutTelemetry(snapshot *mlp.TelemetrySnapshot) {
	for _, ch := range c.telemetryChans {
		select {
		case ch <- snapshot:
		default:
			c.metrics.incTelemetryDropCount()
		}
	}
}

func (c *Connection) fanoutEvent(event *mlp.Event) {
	for _, ch := range c.eventChans {
		select {
		case ch <- event:
		default:
			c.metrics.incEventDropCount()
		}
	}
}
