package mlpclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
)

func newTestDispatcher() (*dispatcher, *ConnectionMetrics) {
	metrics := &ConnectionMetrics{}

	return newDispatcher(metrics, logger.GetLogger()), metrics
}

func TestDispatcher_AckResolvesPending(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pc := d.register(41, mlp.CmdSetRelay, false)

	resolved := d.resolveAck(&mlp.CommandAck{
		AckedSeq: 41,
		CmdID:    mlp.CmdSetRelay,
		Status:   mlp.AckOK,
	})
	require.True(resolved)

	ack, err := d.await(context.Background(), pc, time.Second)
	require.NoError(err)
	require.Equal(uint16(41), ack.AckedSeq)
	require.Equal(mlp.AckOK, ack.Status)

	require.Equal(uint64(1), metrics.CmdAckCount.Load())
	require.Equal(int64(0), metrics.CmdInflightCount.Load())
}

func TestDispatcher_OutOfOrderAcks(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pc1 := d.register(1, mlp.CmdSetSV, false)
	pc2 := d.register(2, mlp.CmdSetMode, false)
	pc3 := d.register(3, mlp.CmdRequestSnapshot, false)

	require.Equal(int64(3), metrics.CmdInflightCount.Load())

	// acks arrive 2, 1, 3
	require.True(d.resolveAck(&mlp.CommandAck{AckedSeq: 2, CmdID: mlp.CmdSetMode, Status: mlp.AckOK}))
	require.True(d.resolveAck(&mlp.CommandAck{AckedSeq: 1, CmdID: mlp.CmdSetSV, Status: mlp.AckInvalidArgs}))
	require.True(d.resolveAck(&mlp.CommandAck{AckedSeq: 3, CmdID: mlp.CmdRequestSnapshot, Status: mlp.AckOK}))

	ack1, err := d.await(context.Background(), pc1, time.Second)
	require.NoError(err)
	require.Equal(mlp.AckInvalidArgs, ack1.Status)

	ack2, err := d.await(context.Background(), pc2, time.Second)
	require.NoError(err)
	require.Equal(uint16(2), ack2.AckedSeq)

	ack3, err := d.await(context.Background(), pc3, time.Second)
	require.NoError(err)
	require.Equal(uint16(3), ack3.AckedSeq)

	require.Equal(uint64(3), metrics.CmdAckCount.Load())
	require.Equal(int64(0), metrics.CmdInflightCount.Load())
}

func TestDispatcher_Timeout(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pc := d.register(7, mlp.CmdStartRun, false)

	start := time.Now()
	ack, err := d.await(context.Background(), pc, 20*time.Millisecond)
	require.Nil(ack)
	require.ErrorIs(err, mlp.ErrNoResponse)
	require.WithinDuration(start.Add(20*time.Millisecond), time.Now(), 100*time.Millisecond)

	require.Equal(uint64(1), metrics.CmdTimeoutCount.Load())
	require.Equal(int64(0), metrics.CmdInflightCount.Load())

	// a late ack for the timed-out seq is an orphan, not a resolution
	resolved := d.resolveAck(&mlp.CommandAck{AckedSeq: 7, CmdID: mlp.CmdStartRun, Status: mlp.AckOK})
	require.False(resolved)
	require.Equal(uint64(1), metrics.CmdOrphanAckCount.Load())
	require.Equal(uint64(0), metrics.CmdAckCount.Load())
}

func TestDispatcher_AckRacesTimeout(t *testing.T) {
	d, metrics := newTestDispatcher()

	// Hammer the ack/timeout race; every await must resolve exactly once,
	// either with the ack or with ErrNoResponse.
	var wg sync.WaitGroup

	for seq := uint16(0); seq < 200; seq++ {
		pc := d.register(seq, mlp.CmdKeepalive, false)

		wg.Add(2)

		go func(seq uint16) {
			defer wg.Done()
			d.resolveAck(&mlp.CommandAck{AckedSeq: seq, CmdID: mlp.CmdKeepalive, Status: mlp.AckOK})
		}(seq)

		go func(pc *pendingCommand) {
			defer wg.Done()

			ack, err := d.await(context.Background(), pc, time.Microsecond)
			if err == nil {
				assert.NotNil(t, ack)
			} else {
				assert.ErrorIs(t, err, mlp.ErrNoResponse)
			}
		}(pc)
	}

	wg.Wait()

	assert.Equal(t, int64(0), metrics.CmdInflightCount.Load())
}

func TestDispatcher_ContextCanceled(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pc := d.register(9, mlp.CmdPauseRun, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ack, err := d.await(ctx, pc, time.Second)
	require.Nil(ack)
	require.ErrorIs(err, context.Canceled)
	require.Equal(int64(0), metrics.CmdInflightCount.Load())
}

func TestDispatcher_KeepaliveCounters(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pc := d.register(11, mlp.CmdKeepalive, true)
	require.True(d.resolveAck(&mlp.CommandAck{AckedSeq: 11, CmdID: mlp.CmdKeepalive, Status: mlp.AckOK}))

	_, err := d.await(context.Background(), pc, time.Second)
	require.NoError(err)
	require.Equal(uint64(1), metrics.KeepaliveAckCount.Load())
	require.Equal(uint64(0), metrics.CmdAckCount.Load())

	pc = d.register(12, mlp.CmdKeepalive, true)
	_, err = d.await(context.Background(), pc, 10*time.Millisecond)
	require.ErrorIs(err, mlp.ErrNoResponse)
	require.Equal(uint64(1), metrics.KeepaliveMissCount.Load())
	require.Equal(uint64(0), metrics.CmdTimeoutCount.Load())
}

func TestDispatcher_Fail(t *testing.T) {
	require := require.New(t)
	d, _ := newTestDispatcher()

	pc := d.register(21, mlp.CmdSetRelayMask, false)

	writeErr := errors.New("write link: broken pipe")
	require.True(d.fail(21, writeErr))
	require.False(d.fail(21, writeErr))

	ack, err := d.await(context.Background(), pc, time.Second)
	require.Nil(ack)
	require.ErrorIs(err, writeErr)
}

func TestDispatcher_FailAll(t *testing.T) {
	require := require.New(t)
	d, metrics := newTestDispatcher()

	pcs := make([]*pendingCommand, 0, 5)
	for seq := uint16(100); seq < 105; seq++ {
		pcs = append(pcs, d.register(seq, mlp.CmdSetSV, false))
	}

	d.failAll(mlp.ErrConnClosed)

	for _, pc := range pcs {
		ack, err := d.await(context.Background(), pc, time.Second)
		require.Nil(ack)
		require.ErrorIs(err, mlp.ErrConnClosed)
	}

	require.Equal(int64(0), metrics.CmdInflightCount.Load())
}
