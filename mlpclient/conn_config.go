package mlpclient

import (
	"errors"
	"sync"
	"time"

	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/transport"
)

// ConnectionConfig represents the configuration parameters for a mill link
// connection.
type ConnectionConfig struct {
	mu sync.RWMutex

	// dialer opens the byte-stream link to the mill.
	dialer transport.Dialer

	// deviceName is a display label for the mill, carried into log fields.
	deviceName string

	// autoReconnect indicates whether the client redials automatically after
	// the link drops.
	// Defaults to true.
	autoReconnect bool

	// reconnectInitialDelay is the backoff before the first redial attempt.
	// Each further attempt doubles it up to reconnectMaxDelay.
	// Defaults to 100 milliseconds.
	reconnectInitialDelay time.Duration
	// reconnectMaxDelay caps the redial backoff.
	// Defaults to 10 seconds.
	reconnectMaxDelay time.Duration

	// autoReopenSession indicates whether the client reissues OPEN_SESSION on
	// its own after a session lease expires while the link stays up.
	// Defaults to true.
	autoReopenSession bool

	// commandTimeout defines how long a sent command may wait for its ack
	// before it resolves with mlp.ErrNoResponse.
	// Defaults to 2 seconds.
	commandTimeout time.Duration

	// keepaliveInterval defines the cadence of automatic KEEPALIVE commands
	// while a session is open.
	// Defaults to 1 second.
	keepaliveInterval time.Duration

	// fallbackLease is the session lease assumed when a grant carries a zero
	// lease duration.
	// Defaults to 3 seconds.
	fallbackLease time.Duration

	// leaseWarnFraction is the fraction of the lease after the last
	// acknowledged keepalive at which the session enters the warning state.
	// Defaults to 0.7.
	leaseWarnFraction float64

	// connectTimeout bounds one dial of the transport.
	// Defaults to 5 seconds.
	connectTimeout time.Duration

	// closeConnTimeout bounds a graceful Close.
	// Defaults to 3 seconds.
	closeConnTimeout time.Duration

	// senderQueueSize defines the size of the sender queue, which buffers
	// outgoing frames before they are written to the transport.
	//
	// Defaults to 16.
	senderQueueSize int

	// telemetryQueueSize defines the size of the queue buffering decoded
	// telemetry snapshots before the registered handlers run. When the queue
	// is full the oldest pending snapshot is dropped and counted; command
	// acks are never affected.
	//
	// Defaults to 16.
	telemetryQueueSize int

	// eventQueueSize defines the size of the queue buffering decoded device
	// events before the registered handlers run.
	//
	// Defaults to 16.
	eventQueueSize int

	// logger provides a logger instance for link events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new connection configuration with the given
// transport dialer and optional functional options.
//
// It initializes a ConnectionConfig struct with default values and then
// applies the provided options to customize the configuration.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any
// occurred during the configuration process.
func NewConnectionConfig(dialer transport.Dialer, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		autoReconnect:         true,
		reconnectInitialDelay: 100 * time.Millisecond,
		reconnectMaxDelay:     10 * time.Second,
		autoReopenSession:     true,
		commandTimeout:        2 * time.Second,
		keepaliveInterval:     1 * time.Second,
		fallbackLease:         3 * time.Second,
		leaseWarnFraction:     0.7,
		connectTimeout:        5 * time.Second,
		closeConnTimeout:      3 * time.Second,
		senderQueueSize:       16,
		telemetryQueueSize:    16,
		eventQueueSize:        16,
		logger:                logger.GetLogger(),
	}

	if err := withDialer(dialer).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// AutoReconnect reports whether the client redials automatically after a
// link drop.
func (cfg *ConnectionConfig) AutoReconnect() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.autoReconnect
}

// AutoReopenSession reports whether the client reissues OPEN_SESSION after a
// lease expiry.
func (cfg *ConnectionConfig) AutoReopenSession() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.autoReopenSession
}

// CommandTimeout returns the ack wait budget for one command.
func (cfg *ConnectionConfig) CommandTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandTimeout
}

// KeepaliveInterval returns the automatic keepalive cadence.
func (cfg *ConnectionConfig) KeepaliveInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.keepaliveInterval
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error { return c.applyFunc(cfg) }

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// withDialer sets the transport dialer for the connection.
// An error is returned if the dialer or the configuration is nil.
func withDialer(dialer transport.Dialer) ConnOption {
	return newConnOptFunc("withDialer", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if dialer == nil {
			return errors.New("transport dialer is nil")
		}
		cfg.dialer = dialer

		return nil
	})
}

// WithDeviceName sets a display label for the mill, carried into log fields.
// An error is returned if the configuration is nil.
//
// This option can't be changed at runtime.
func WithDeviceName(name string) ConnOption {
	return newConnOptFunc("WithDeviceName", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		cfg.deviceName = name

		return nil
	})
}

// WithAutoReconnect enables or disables automatic redialing after the link
// drops.
//
// When enabled (val = true), the client schedules a redial with exponential
// backoff every time the transport fails, until Close is called.
//
// When disabled (val = false), a link drop leaves the connection in the
// link-error state and reconnecting is the caller's decision.
//
// An error is returned if the provided ConnectionConfig is nil.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithAutoReconnect(val bool) ConnOption {
	return newConnOptFunc("WithAutoReconnect", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		cfg.autoReconnect = val

		return nil
	})
}

// WithReconnectDelay sets the initial and maximum backoff between redial
// attempts. Each failed attempt doubles the delay up to the maximum.
// An error is returned if initial is shorter than 10 milliseconds, if max is
// shorter than initial or longer than 60 seconds, or if the configuration is
// nil.
//
// The default values are 100 milliseconds and 10 seconds.
//
// This option can be changed at runtime.
func WithReconnectDelay(initial time.Duration, maxDelay time.Duration) ConnOption {
	return newConnOptFunc("WithReconnectDelay", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if initial < 10*time.Millisecond {
			return errors.New("initial reconnect delay below 10ms")
		}
		if maxDelay < initial || maxDelay > 60*time.Second {
			return errors.New("max reconnect delay out of range [initial, 60s]")
		}
		cfg.reconnectInitialDelay = initial
		cfg.reconnectMaxDelay = maxDelay

		return nil
	})
}

// WithAutoReopenSession enables or disables automatic OPEN_SESSION reissue
// after a session lease expires while the link stays up.
//
// An error is returned if the provided ConnectionConfig is nil.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithAutoReopenSession(val bool) ConnOption {
	return newConnOptFunc("WithAutoReopenSession", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		cfg.autoReopenSession = val

		return nil
	})
}

// WithCommandTimeout sets how long a sent command waits for its ack before it
// resolves with mlp.ErrNoResponse.
// An error is returned if the timeout is outside the valid range (0.1-30
// seconds) or if the configuration is nil.
//
// The default value is 2 seconds.
//
// This option can be changed at runtime.
func WithCommandTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCommandTimeout", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("command timeout out of range [0.1, 30]")
		}
		cfg.commandTimeout = val

		return nil
	})
}

// WithKeepaliveInterval sets the cadence of automatic KEEPALIVE commands
// while a session is open. The interval must stay well inside the session
// lease or the session will bounce through the warning state.
// An error is returned if the interval is outside the valid range (0.1-10
// seconds) or if the configuration is nil.
//
// The default value is 1 second.
//
// This option can be changed at runtime.
func WithKeepaliveInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithKeepaliveInterval", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val < 100*time.Millisecond || val > 10*time.Second {
			return errors.New("keepalive interval out of range [0.1, 10]")
		}
		cfg.keepaliveInterval = val

		return nil
	})
}

// WithFallbackLease sets the session lease assumed when an OPEN_SESSION grant
// carries a zero lease duration.
// An error is returned if the lease is outside the valid range (0.5-60
// seconds) or if the configuration is nil.
//
// The default value is 3 seconds.
//
// This option can be changed at runtime.
func WithFallbackLease(val time.Duration) ConnOption {
	return newConnOptFunc("WithFallbackLease", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val < 500*time.Millisecond || val > 60*time.Second {
			return errors.New("fallback lease out of range [0.5, 60]")
		}
		cfg.fallbackLease = val

		return nil
	})
}

// WithLeaseWarnFraction sets the fraction of the lease after the last
// acknowledged keepalive at which the session enters the warning state.
// An error is returned if the fraction is outside the open interval (0, 1)
// or if the configuration is nil.
//
// The default value is 0.7.
//
// This option can be changed at runtime.
func WithLeaseWarnFraction(val float64) ConnOption {
	return newConnOptFunc("WithLeaseWarnFraction", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val <= 0 || val >= 1 {
			return errors.New("lease warn fraction out of range (0, 1)")
		}
		cfg.leaseWarnFraction = val

		return nil
	})
}

// WithConnectTimeout sets the timeout for one dial of the transport.
// An error is returned if the timeout is outside the valid range (0.1-30
// seconds) or if the configuration is nil.
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("connect timeout out of range [0.1, 30]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithCloseConnTimeout sets the timeout for a graceful Close.
// An error is returned if the timeout is outside the valid range (1-30
// seconds) or if the configuration is nil.
//
// The default value is 3 seconds.
//
// This option can be changed at runtime.
func WithCloseConnTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCloseConnTimeout", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		if val < 1*time.Second || val > 30*time.Second {
			return errors.New("close connection timeout out of range [1, 30]")
		}
		cfg.closeConnTimeout = val

		return nil
	})
}

// WithSenderQueueSize sets the size of the sender queue, which buffers
// outgoing frames before they are written to the transport.
//
// This option allows you to control the backpressure level for unsent
// frames. A larger queue size can accommodate bursts but might consume more
// memory.
//
// The queue size must be within the range of 1 to 1000.
// An error is returned if the queue size is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 16.
//
// This option can't be changed at runtime.
func WithSenderQueueSize(size int) ConnOption {
	return newConnOptFunc("WithSenderQueueSize", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}
		if size < 1 || size > 1000 {
			return errors.New("the sender queue size out of range [1, 1000]")
		}

		cfg.senderQueueSize = size

		return nil
	})
}

// WithTelemetryQueueSize sets the size of the queue buffering decoded
// telemetry snapshots before the registered handlers run.
//
// The queue size must be within the range of 1 to 1000.
// An error is returned if the queue size is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 16.
//
// This option can't be changed at runtime.
func WithTelemetryQueueSize(size int) ConnOption {
	return newConnOptFunc("WithTelemetryQueueSize", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}
		if size < 1 || size > 1000 {
			return errors.New("the telemetry queue size out of range [1, 1000]")
		}

		cfg.telemetryQueueSize = size

		return nil
	})
}

// WithEventQueueSize sets the size of the queue buffering decoded device
// events before the registered handlers run.
//
// The queue size must be within the range of 1 to 1000.
// An error is returned if the queue size is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 16.
//
// This option can't be changed at runtime.
func WithEventQueueSize(size int) ConnOption {
	return newConnOptFunc("WithEventQueueSize", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}
		if size < 1 || size > 1000 {
			return errors.New("the event queue size out of range [1, 1000]")
		}

		cfg.eventQueueSize = size

		return nil
	})
}

// WithLogger sets the logger for the connection.
// An error is returned if the configuration is nil.
//
// The default logger is the global logger instance.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return mlp.ErrConfigNil
		}

		cfg.logger = l

		return nil
	})
}
