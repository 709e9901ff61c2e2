package mlpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cryogrind/go-mlp/transport"
)

// newIdleSession returns the session of a connection that never dials, for
// driving the lease rules directly.
func newIdleSession(t *testing.T) *Session {
	t.Helper()

	dialer := transport.DialerFunc(func(_ context.Context) (transport.Conn, error) {
		return nil, errors.New("not dialed in this test")
	})

	cfg, err := NewConnectionConfig(dialer)
	require.NoError(t, err)

	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn.session
}

func (s *Session) arm(id uint32, lease time.Duration, lastAckAt time.Time) {
	s.mu.Lock()
	s.state = SessionActive
	s.id = id
	s.lease = lease
	s.lastAckAt = lastAckAt
	s.mu.Unlock()
}

func TestSession_EvaluateFreshLease(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	s.arm(7, time.Second, now.Add(-300*time.Millisecond))

	require.True(s.evaluate(now))
	require.Equal(SessionActive, s.State())
}

func TestSession_EvaluateWarns(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	s.arm(7, time.Second, now.Add(-750*time.Millisecond))

	// past the warn fraction but inside the lease: still live
	require.True(s.evaluate(now))
	require.Equal(SessionWarning, s.State())
	require.True(s.State().IsLive())

	// a second pass does not regress the state
	require.True(s.evaluate(now))
	require.Equal(SessionWarning, s.State())
}

func TestSession_EvaluateAtLeaseBoundary(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	s.arm(7, 3000*time.Millisecond, now)

	// one millisecond inside the lease: live (in Warning past the fraction)
	require.True(s.evaluate(now.Add(2999 * time.Millisecond)))
	require.True(s.State().IsLive())

	// age equal to the lease has not run out yet
	require.True(s.evaluate(now.Add(3000 * time.Millisecond)))
	require.True(s.State().IsLive())

	// one millisecond past the lease: expired
	require.False(s.evaluate(now.Add(3001 * time.Millisecond)))
	require.Equal(SessionExpired, s.State())
}

func TestSession_EvaluateExpires(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	s.arm(7, time.Second, now.Add(-1100*time.Millisecond))

	require.False(s.evaluate(now))
	require.Equal(SessionExpired, s.State())
	require.False(s.State().IsLive())
	require.Equal(uint64(1), s.conn.metrics.SessionExpiredCount.Load())

	// expired stays expired
	require.False(s.evaluate(now.Add(time.Second)))
	require.Equal(uint64(1), s.conn.metrics.SessionExpiredCount.Load())
}

func TestSession_EvaluateWithoutSession(t *testing.T) {
	s := newIdleSession(t)

	require.False(t, s.evaluate(time.Now()))
	require.Equal(t, SessionNone, s.State())
}

func TestSession_TouchAckRecoversWarning(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	s.arm(7, time.Second, now.Add(-750*time.Millisecond))
	require.True(s.evaluate(now))
	require.Equal(SessionWarning, s.State())

	s.touchAck()
	require.Equal(SessionActive, s.State())
	require.WithinDuration(time.Now(), s.LastAckAt(), 100*time.Millisecond)
}

func TestSession_TouchAckIgnoredWhenExpired(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	now := time.Now()
	lastAck := now.Add(-2 * time.Second)
	s.arm(7, time.Second, lastAck)
	require.False(s.evaluate(now))

	// an ack for a dead session proves nothing; only open() revives it
	s.touchAck()
	require.Equal(SessionExpired, s.State())
	require.Equal(lastAck, s.LastAckAt())
}

func TestSession_ExpireIdempotent(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	s.arm(7, time.Second, time.Now())
	s.expire()
	s.expire()

	require.Equal(SessionExpired, s.State())
	require.Equal(uint64(1), s.conn.metrics.SessionExpiredCount.Load())
}

func TestSession_Reset(t *testing.T) {
	require := require.New(t)
	s := newIdleSession(t)

	s.arm(7, time.Second, time.Now())
	s.reset()

	require.Equal(SessionNone, s.State())
	require.Zero(s.ID())
	require.Zero(s.Lease())
	require.True(s.LastAckAt().IsZero())
}

func TestSessionState_Strings(t *testing.T) {
	require := require.New(t)

	require.Equal("none", SessionNone.String())
	require.Equal("opening", SessionOpening.String())
	require.Equal("active", SessionActive.String())
	require.Equal("warning", SessionWarning.String())
	require.Equal("expired", SessionExpired.String())

	require.False(SessionOpening.IsLive())
	require.True(SessionActive.IsLive())
	require.True(SessionWarning.IsLive())
	require.False(SessionExpired.IsLive())
}
