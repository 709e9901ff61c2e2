package mlpclient

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cryogrind/go-mlp/logger"
	"github.com/cryogrind/go-mlp/mlp"
)

// SessionState represents the lifecycle state of a command session lease.
type SessionState uint32

// Session states.
const (
	// SessionNone indicates no session has been opened on the current link.
	SessionNone SessionState = iota
	// SessionOpening indicates an OPEN_SESSION command is outstanding.
	SessionOpening
	// SessionActive indicates a granted session with a fresh lease.
	SessionActive
	// SessionWarning indicates the lease is aging without acks and will
	// expire soon.
	SessionWarning
	// SessionExpired indicates the lease ran out; session commands are
	// rejected locally until the session is reopened.
	SessionExpired
)

// String returns string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionNone:
		return "none"
	case SessionOpening:
		return "opening"
	case SessionActive:
		return "active"
	case SessionWarning:
		return "warning"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsLive reports whether session-gated commands may be sent in this state.
// A session in Warning is still live; the lease has not run out yet.
func (s SessionState) IsLive() bool {
	return s == SessionActive || s == SessionWarning
}

// Session tracks the command session granted by the MCU: its id, its lease,
// and the time of the last acknowledgement that proved the session alive.
//
// The session advances lastAckAt only when an ack arrives, never on send.
// A send into a dead link looks exactly like silence; only a completed round
// trip counts as proof of life.
type Session struct {
	conn   *Connection
	cfg    *ConnectionConfig
	logger logger.Logger

	mu        sync.Mutex
	state     SessionState
	id        uint32
	lease     time.Duration
	lastAckAt time.Time
	kaTicker  *time.Ticker
}

func newSession(conn *Connection) *Session {
	return &Session{
		conn:   conn,
		cfg:    conn.cfg,
		logger: conn.logger,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// ID returns the session id granted by the MCU, or 0 when no session is open.
func (s *Session) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

// Lease returns the granted lease duration, or 0 when no session is open.
func (s *Session) Lease() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lease
}

// LastAckAt returns the time of the last acknowledgement from the MCU.
func (s *Session) LastAckAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastAckAt
}

// open sends OPEN_SESSION and, on a granted ack, arms the lease and starts
// the keepalive interval task. It blocks for at most the command timeout.
func (s *Session) open(ctx context.Context) error {
	s.mu.Lock()
	s.state = SessionOpening
	s.mu.Unlock()

	var nonceBuf [4]byte
	_, _ = io.ReadFull(rand.Reader, nonceBuf[:])
	nonce := binary.LittleEndian.Uint32(nonceBuf[:])

	ack, err := s.conn.dispatchCommand(ctx, &mlp.OpenSession{ClientNonce: nonce}, false)
	if err != nil {
		s.setState(SessionNone)

		return fmt.Errorf("open session: %w", err)
	}

	if err := ack.Status.Err(); err != nil {
		s.setState(SessionNone)

		return fmt.Errorf("open session: %w", ackDetailErr(err, ack.Detail))
	}

	grant, err := ack.SessionGrant()
	if err != nil {
		s.setState(SessionNone)

		return fmt.Errorf("open session: %w", err)
	}

	lease := time.Duration(grant.LeaseMs) * time.Millisecond
	if lease == 0 {
		lease = s.cfg.fallbackLease
	}

	s.mu.Lock()
	s.id = grant.SessionID
	s.lease = lease
	s.lastAckAt = time.Now()
	s.state = SessionActive
	s.mu.Unlock()

	s.logger.Info("mlp: session opened",
		"sessionID", grant.SessionID,
		"lease", lease)

	s.startKeepalive()

	return nil
}

// reset drops all session state without notifying the connection. Called on
// link loss and on close, where the connection already knows.
func (s *Session) reset() {
	s.mu.Lock()
	s.state = SessionNone
	s.id = 0
	s.lease = 0
	s.lastAckAt = time.Time{}
	s.mu.Unlock()
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) startKeepalive() {
	ticker, err := s.conn.taskMgr.StartInterval("keepaliveTask", s.keepaliveTask, s.cfg.keepaliveInterval, false)
	if err != nil {
		s.logger.Error("mlp: failed to start keepalive task", "error", err)

		return
	}

	s.mu.Lock()
	s.kaTicker = ticker
	s.mu.Unlock()
}

func (s *Session) resetKeepaliveTicker(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kaTicker != nil && d > 0 {
		s.kaTicker.Reset(d)
	}
}

// keepaliveTask runs once per keepalive interval while the session is live.
// It evaluates lease staleness before sending, so a string of unanswered
// keepalives expires the session even though every send "succeeds".
func (s *Session) keepaliveTask() bool {
	if !s.evaluate(time.Now()) {
		return false
	}

	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	ack, err := s.conn.dispatchCommand(s.conn.getContext(), &mlp.Keepalive{SessionID: id}, true)
	if err != nil {
		if errors.Is(err, mlp.ErrConnClosed) || errors.Is(err, context.Canceled) {
			return false
		}

		// A missed keepalive is not an expiry by itself; staleness decides.
		s.logger.Debug("mlp: keepalive unanswered", "sessionID", id, "error", err)

		return true
	}

	if ack.Status == mlp.AckRejectedPolicy {
		// The MCU no longer honors this session, typically after a reboot.
		// Expire immediately instead of waiting out the lease.
		s.logger.Warn("mlp: keepalive rejected, session lost",
			"sessionID", id,
			"detail", ack.Detail)
		s.expire()

		return false
	}

	return true
}

// evaluate applies the lease staleness rules at the given time. It returns
// false once the session is no longer live.
func (s *Session) evaluate(now time.Time) bool {
	s.mu.Lock()

	if !s.state.IsLive() {
		s.mu.Unlock()

		return false
	}

	age := now.Sub(s.lastAckAt)
	warnAfter := time.Duration(float64(s.lease) * s.cfg.leaseWarnFraction)

	switch {
	case age > s.lease:
		s.mu.Unlock()
		s.expire()

		return false

	case age > warnAfter && s.state == SessionActive:
		s.state = SessionWarning
		s.mu.Unlock()

		s.logger.Warn("mlp: session lease warning", "age", age, "lease", s.lease)
		s.conn.notifySessionState(SessionActive, SessionWarning)

		return true

	default:
		s.mu.Unlock()

		return true
	}
}

// touchAck records proof of a live round trip. Recovers Warning back to
// Active.
func (s *Session) touchAck() {
	s.mu.Lock()

	if !s.state.IsLive() {
		s.mu.Unlock()

		return
	}

	s.lastAckAt = time.Now()

	if s.state == SessionWarning {
		s.state = SessionActive
		s.mu.Unlock()

		s.logger.Info("mlp: session recovered from lease warning")
		s.conn.notifySessionState(SessionWarning, SessionActive)

		return
	}

	s.mu.Unlock()
}

func (s *Session) expire() {
	s.mu.Lock()

	if s.state == SessionExpired {
		s.mu.Unlock()

		return
	}

	prev := s.state
	id := s.id
	s.state = SessionExpired
	s.mu.Unlock()

	s.conn.metrics.incSessionExpiredCount()
	s.logger.Warn("mlp: session expired", "sessionID", id)
	s.conn.notifySessionState(prev, SessionExpired)
}
