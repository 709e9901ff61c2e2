package mlp

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cryogrind/go-mlp/logger"
)

// LinkState represents the stages of the radio link, from nothing through a
// live session.
type LinkState uint32

// Link states in rough forward order. Disconnected, PermissionRequired and
// LinkError are reachable from any state; the rest only from their
// predecessors in the connect sequence.
const (
	// DisconnectedState indicates no transport is open and nothing is in progress.
	DisconnectedState LinkState = iota
	// PermissionRequiredState indicates the platform denied radio access and the
	// user has to grant it before anything else can happen.
	PermissionRequiredState
	// ScanningState indicates a device scan is running.
	ScanningState
	// DeviceSelectedState indicates a device has been chosen but not dialed yet.
	DeviceSelectedState
	// ConnectingState indicates the transport dial is in progress.
	ConnectingState
	// DiscoveringState indicates the transport is open and its endpoints are
	// being resolved.
	DiscoveringState
	// SubscribingState indicates the inbound stream subscription is being set up.
	SubscribingState
	// SessionOpeningState indicates OPEN_SESSION is in flight.
	SessionOpeningState
	// LiveState indicates a session is open and frames are flowing.
	LiveState
	// DegradedState indicates the transport is still up but the session lease
	// has expired.
	DegradedState
	// LinkErrorState indicates the link failed and a reconnect decision is pending.
	LinkErrorState
)

// String returns string representation of the current state.
func (ls LinkState) String() string {
	switch ls {
	case DisconnectedState:
		return "disconnected"
	case PermissionRequiredState:
		return "permission-required"
	case ScanningState:
		return "scanning"
	case DeviceSelectedState:
		return "device-selected"
	case ConnectingState:
		return "connecting"
	case DiscoveringState:
		return "discovering"
	case SubscribingState:
		return "subscribing"
	case SessionOpeningState:
		return "session-opening"
	case LiveState:
		return "live"
	case DegradedState:
		return "degraded"
	case LinkErrorState:
		return "link-error"
	default:
		return "unknown"
	}
}

// IsDisconnected returns if the current state is disconnected.
func (ls LinkState) IsDisconnected() bool { return ls == DisconnectedState }

// IsLive returns if the current state is live.
func (ls LinkState) IsLive() bool { return ls == LiveState }

// IsDegraded returns if the current state is degraded.
func (ls LinkState) IsDegraded() bool { return ls == DegradedState }

// canEnter reports whether the transition from -> to is legal.
func canEnter(from LinkState, to LinkState) bool {
	switch to {
	case DisconnectedState, PermissionRequiredState, LinkErrorState:
		return true
	case ScanningState:
		return from == DisconnectedState || from == PermissionRequiredState || from == DeviceSelectedState
	case DeviceSelectedState:
		return from == ScanningState
	case ConnectingState:
		return from == DeviceSelectedState || from == DisconnectedState
	case DiscoveringState:
		return from == ConnectingState
	case SubscribingState:
		return from == DiscoveringState
	case SessionOpeningState:
		return from == SubscribingState || from == DegradedState
	case LiveState:
		return from == SessionOpeningState || from == DegradedState
	case DegradedState:
		return from == LiveState
	default:
		return false
	}
}

// LinkStateChangeHandler is invoked when the link state changes.
//
// Note: the handler runs in blocking mode under the manager lock. Take care
// with long-running implementations.
type LinkStateChangeHandler func(prevState LinkState, newState LinkState)

// LinkStateMgr manages the link state machine.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. The state transitions are thread safe in concurrent
// environments.
type LinkStateMgr struct {
	mu               sync.Mutex
	ctx              context.Context
	cond             *sync.Cond
	state            atomic.Uint32
	logger           logger.Logger
	asyncStateChange chan LinkState
	handlers         []LinkStateChangeHandler
}

// NewLinkStateMgr creates a new LinkStateMgr instance, initializing it to
// DisconnectedState.
//
// It accepts optional LinkStateChangeHandler functions that will be invoked
// when the link state changes.
func NewLinkStateMgr(ctx context.Context, l logger.Logger, handlers ...LinkStateChangeHandler) *LinkStateMgr {
	mgr := &LinkStateMgr{
		ctx:              ctx,
		logger:           l,
		asyncStateChange: make(chan LinkState, 10),
		handlers:         make([]LinkStateChangeHandler, 0, len(handlers)),
	}

	mgr.handlers = append(mgr.handlers, handlers...)

	if mgr.logger == nil {
		mgr.logger = logger.GetLogger()
	}

	mgr.state.Store(uint32(DisconnectedState))
	mgr.cond = sync.NewCond(&mgr.mu)

	go mgr.asyncStateChangeTask()

	return mgr
}

// State returns the current link state.
func (mgr *LinkStateMgr) State() LinkState {
	return LinkState(mgr.state.Load())
}

// AddHandler adds one or more LinkStateChangeHandler functions to be invoked
// on state changes.
func (mgr *LinkStateMgr) AddHandler(handlers ...LinkStateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// WaitState waits for the link state to reach the specified state or until
// the context is done. It returns nil if the desired state is reached, or an
// error if the context is canceled or times out.
func (mgr *LinkStateMgr) WaitState(ctx context.Context, state LinkState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			mgr.logger.Debug("wait link state canceled", "cur_state", mgr.State(), "desired_state", state)
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// To transitions the link state to the target state.
//
// If the state is already the target, the function is a no-op. Returns nil on
// success, or ErrInvalidTransition when the current state does not allow the
// target.
func (mgr *LinkStateMgr) To(target LinkState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()

	if curState == target {
		return nil
	}

	if !canEnter(curState, target) {
		return ErrInvalidTransition
	}

	switch target {
	case DisconnectedState, PermissionRequiredState, LinkErrorState:
		// change state BEFORE the handlers run, so that anything they trigger
		// observes the link as already down
		mgr.setState(target)
		mgr.invokeHandlers(curState, target)
	default:
		mgr.invokeHandlers(curState, target)
		// change state after all handlers finished
		mgr.setState(target)
	}

	return nil
}

// ToAsync transitions the link state to the target state asynchronously.
//
// It notifies a goroutine which performs the transition in the background.
// If the state is the same as the current state, the function is a no-op.
func (mgr *LinkStateMgr) ToAsync(target LinkState) {
	if mgr.State() == target {
		return
	}

	mgr.asyncStateChange <- target
}

// IsDisconnected returns if the current state is disconnected.
func (mgr *LinkStateMgr) IsDisconnected() bool {
	return mgr.State().IsDisconnected()
}

// IsLive returns if the current state is live.
func (mgr *LinkStateMgr) IsLive() bool {
	return mgr.State().IsLive()
}

// IsDegraded returns if the current state is degraded.
func (mgr *LinkStateMgr) IsDegraded() bool {
	return mgr.State().IsDegraded()
}

// setState atomically sets the current state to newState. It also broadcasts
// a signal to any waiting goroutines.
func (mgr *LinkStateMgr) setState(newState LinkState) {
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()
}

// invokeHandlers invokes all registered LinkStateChangeHandler functions with
// the previous and new states.
func (mgr *LinkStateMgr) invokeHandlers(prevState LinkState, newState LinkState) {
	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}

// asyncStateChangeTask handles state changing in the background.
func (mgr *LinkStateMgr) asyncStateChangeTask() {
	defer mgr.logger.Debug("asyncStateChangeTask terminated")

	for {
		select {
		case <-mgr.ctx.Done():
			return

		case desiredState := <-mgr.asyncStateChange:
			prevState := mgr.State()
			if desiredState == prevState {
				break
			}

			if err := mgr.To(desiredState); err != nil {
				// a stale async request after the link already moved on is
				// dropped, not escalated
				mgr.logger.Debug("async link state transition rejected",
					"prev_state", prevState, "cur_state", mgr.State(), "desired_state", desiredState,
					"error", err,
				)
			}
		}
	}
}
