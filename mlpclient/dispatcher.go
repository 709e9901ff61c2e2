package mlpclient

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cryogrind/go-mlp/internal/pool"
	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
)

// ackResult carries the outcome of a pending command to its waiting sender.
// Exactly one of ack or err is set.
type ackResult struct {
	ack *mlp.CommandAck
	err error
}

// pendingCommand tracks a sent COMMAND frame that is awaiting its ACK.
//
// The done channel has capacity 1 and receives exactly one result. Whoever
// removes the entry from the dispatcher map (the ack path, the timeout path,
// or failAll) owns delivery of that result.
type pendingCommand struct {
	seq       uint16
	cmdID     mlp.CommandID
	keepalive bool
	done      chan ackResult
}

// dispatcher correlates COMMAND_ACK frames with in-flight commands by
// sequence number.
//
// Every resolution path claims the pending entry with LoadAndDelete before
// touching its done channel, so a command is resolved exactly once even when
// an ack races a timeout or a connection teardown.
type dispatcher struct {
	pending *xsync.MapOf[uint16, *pendingCommand]
	metrics *ConnectionMetrics
	logger  logger.Logger
}

func newDispatcher(metrics *ConnectionMetrics, l logger.Logger) *dispatcher {
	return &dispatcher{
		pending: xsync.NewMapOf[uint16, *pendingCommand](),
		metrics: metrics,
		logger:  l,
	}
}

// register records a command as in-flight before it is handed to the sender.
// Registering before the frame is on the wire closes the window where a fast
// ack could arrive with no waiting entry.
func (d *dispatcher) register(seq uint16, cmdID mlp.CommandID, keepalive bool) *pendingCommand {
	pc := &pendingCommand{
		seq:       seq,
		cmdID:     cmdID,
		keepalive: keepalive,
		done:      make(chan ackResult, 1),
	}

	d.pending.Store(seq, pc)
	d.metrics.incCmdInflightCount()

	return pc
}

// await blocks until the command is acked, the timeout elapses, or ctx is
// canceled. The returned ack may carry a non-OK status; interpreting it is
// the caller's job.
func (d *dispatcher) await(ctx context.Context, pc *pendingCommand, timeout time.Duration) (*mlp.CommandAck, error) {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case result := <-pc.done:
		return result.ack, result.err

	case <-timer.C:
		if _, claimed := d.pending.LoadAndDelete(pc.seq); !claimed {
			// An ack or teardown won the race; its result is already
			// buffered or imminent.
			result := <-pc.done

			return result.ack, result.err
		}

		d.metrics.decCmdInflightCount()

		if pc.keepalive {
			d.metrics.incKeepaliveMissCount()
		} else {
			d.metrics.incCmdTimeoutCount()
		}

		d.logger.Warn("mlp: ack timeout",
			"seq", pc.seq,
			"cmdID", pc.cmdID.String(),
			"timeout", timeout)

		return nil, mlp.ErrNoResponse

	case <-ctx.Done():
		if _, claimed := d.pending.LoadAndDelete(pc.seq); !claimed {
			result := <-pc.done

			return result.ack, result.err
		}

		d.metrics.decCmdInflightCount()

		return nil, ctx.Err()
	}
}

// resolveAck matches a received COMMAND_ACK to its pending command.
//
// Acks with no waiting sender (already timed out, or never sent by this
// client) are counted and dropped.
func (d *dispatcher) resolveAck(ack *mlp.CommandAck) bool {
	pc, loaded := d.pending.LoadAndDelete(ack.AckedSeq)
	if !loaded {
		d.metrics.incCmdOrphanAckCount()
		d.logger.Debug("mlp: ack has no waiting sender, dropping",
			"ackedSeq", ack.AckedSeq,
			"cmdID", ack.CmdID.String(),
			"status", ack.Status.String())

		return false
	}

	d.metrics.decCmdInflightCount()

	if pc.keepalive {
		d.metrics.incKeepaliveAckCount()
	} else {
		d.metrics.incCmdAckCount()
	}

	pc.done <- ackResult{ack: ack}

	return true
}

// fail resolves a single pending command with an error. The sender task uses
// this when a frame cannot be written to the link.
func (d *dispatcher) fail(seq uint16, err error) bool {
	pc, loaded := d.pending.LoadAndDelete(seq)
	if !loaded {
		return false
	}

	d.metrics.decCmdInflightCount()
	pc.done <- ackResult{err: err}

	return true
}

// failAll resolves every pending command with err. Called on connection
// teardown and on link loss, where no ack can arrive anymore.
func (d *dispatcher) failAll(err error) {
	d.pending.Range(func(seq uint16, _ *pendingCommand) bool {
		pc, loaded := d.pending.LoadAndDelete(seq)
		if loaded {
			d.metrics.decCmdInflightCount()
			pc.done <- ackResult{err: err}
		}

		return true
	})
}
