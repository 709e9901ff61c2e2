package mlpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

func testDialer() transport.Dialer {
	return transport.DialerFunc(func(_ context.Context) (transport.Conn, error) {
		return nil, errors.New("not dialed in this test")
	})
}

func TestNewConnectionConfig(t *testing.T) {
	require := require.New(t)

	t.Run("Valid Configuration", func(t *testing.T) {
		cfg, err := NewConnectionConfig(testDialer(),
			WithDeviceName("bench mill"),
			WithAutoReconnect(false),
			WithReconnectDelay(50*time.Millisecond, 5*time.Second),
			WithAutoReopenSession(false),
			WithCommandTimeout(3*time.Second),
			WithKeepaliveInterval(2*time.Second),
			WithFallbackLease(5*time.Second),
			WithLeaseWarnFraction(0.5),
			WithConnectTimeout(10*time.Second),
			WithCloseConnTimeout(5*time.Second),
			WithSenderQueueSize(32),
			WithTelemetryQueueSize(8),
			WithEventQueueSize(8),
		)
		require.NoError(err)
		require.Equal("bench mill", cfg.deviceName)
		require.False(cfg.AutoReconnect())
		require.Equal(50*time.Millisecond, cfg.reconnectInitialDelay)
		require.Equal(5*time.Second, cfg.reconnectMaxDelay)
		require.False(cfg.AutoReopenSession())
		require.Equal(3*time.Second, cfg.CommandTimeout())
		require.Equal(2*time.Second, cfg.KeepaliveInterval())
		require.Equal(5*time.Second, cfg.fallbackLease)
		require.Equal(0.5, cfg.leaseWarnFraction)
		require.Equal(10*time.Second, cfg.connectTimeout)
		require.Equal(5*time.Second, cfg.closeConnTimeout)
		require.Equal(32, cfg.senderQueueSize)
		require.Equal(8, cfg.telemetryQueueSize)
		require.Equal(8, cfg.eventQueueSize)
	})

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := NewConnectionConfig(testDialer())
		require.NoError(err)
		require.True(cfg.AutoReconnect())
		require.True(cfg.AutoReopenSession())
		require.Equal(100*time.Millisecond, cfg.reconnectInitialDelay)
		require.Equal(10*time.Second, cfg.reconnectMaxDelay)
		require.Equal(2*time.Second, cfg.CommandTimeout())
		require.Equal(time.Second, cfg.KeepaliveInterval())
		require.Equal(3*time.Second, cfg.fallbackLease)
		require.Equal(0.7, cfg.leaseWarnFraction)
		require.Equal(16, cfg.senderQueueSize)
	})

	t.Run("Nil Dialer", func(t *testing.T) {
		_, err := NewConnectionConfig(nil)
		require.Error(err)
		require.EqualError(err, "transport dialer is nil")
	})

	t.Run("Invalid Reconnect Delay", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithReconnectDelay(5*time.Millisecond, time.Second))
		require.Error(err)
		require.EqualError(err, "initial reconnect delay below 10ms")

		_, err = NewConnectionConfig(testDialer(), WithReconnectDelay(time.Second, 500*time.Millisecond))
		require.Error(err)
		require.EqualError(err, "max reconnect delay out of range [initial, 60s]")

		_, err = NewConnectionConfig(testDialer(), WithReconnectDelay(time.Second, 120*time.Second))
		require.Error(err)
		require.EqualError(err, "max reconnect delay out of range [initial, 60s]")

		err = WithReconnectDelay(time.Second, 10*time.Second).apply(nil)
		require.Error(err)
		require.ErrorIs(err, mlp.ErrConfigNil)
	})

	t.Run("Invalid Command Timeout", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithCommandTimeout(50*time.Millisecond))
		require.Error(err)
		require.EqualError(err, "command timeout out of range [0.1, 30]")

		_, err = NewConnectionConfig(testDialer(), WithCommandTimeout(31*time.Second))
		require.Error(err)
		require.EqualError(err, "command timeout out of range [0.1, 30]")
	})

	t.Run("Invalid Keepalive Interval", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithKeepaliveInterval(50*time.Millisecond))
		require.Error(err)
		require.EqualError(err, "keepalive interval out of range [0.1, 10]")

		_, err = NewConnectionConfig(testDialer(), WithKeepaliveInterval(11*time.Second))
		require.Error(err)
		require.EqualError(err, "keepalive interval out of range [0.1, 10]")
	})

	t.Run("Invalid Fallback Lease", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithFallbackLease(100*time.Millisecond))
		require.Error(err)
		require.EqualError(err, "fallback lease out of range [0.5, 60]")
	})

	t.Run("Invalid Lease Warn Fraction", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithLeaseWarnFraction(0))
		require.Error(err)
		require.EqualError(err, "lease warn fraction out of range (0, 1)")

		_, err = NewConnectionConfig(testDialer(), WithLeaseWarnFraction(1))
		require.Error(err)
		require.EqualError(err, "lease warn fraction out of range (0, 1)")
	})

	t.Run("Invalid Connect Timeout", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithConnectTimeout(time.Millisecond))
		require.Error(err)
		require.EqualError(err, "connect timeout out of range [0.1, 30]")
	})

	t.Run("Invalid Close Timeout", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithCloseConnTimeout(500*time.Millisecond))
		require.Error(err)
		require.EqualError(err, "close connection timeout out of range [1, 30]")
	})

	t.Run("Invalid Queue Sizes", func(t *testing.T) {
		_, err := NewConnectionConfig(testDialer(), WithSenderQueueSize(0))
		require.Error(err)
		require.EqualError(err, "the sender queue size out of range [1, 1000]")

		_, err = NewConnectionConfig(testDialer(), WithTelemetryQueueSize(1001))
		require.Error(err)
		require.EqualError(err, "the telemetry queue size out of range [1, 1000]")

		_, err = NewConnectionConfig(testDialer(), WithEventQueueSize(-1))
		require.Error(err)
		require.EqualError(err, "the event queue size out of range [1, 1000]")
	})
}
