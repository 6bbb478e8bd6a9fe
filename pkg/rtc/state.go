package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// SessionState tracks where a peer sits in its connection lifecycle.
type SessionState int

const (
	StateNew SessionState = iota
	StateConnecting
	StateConnected
	// StateTerminal covers failed, closed and disconnected. Once entered the
	// session never leaves it.
	StateTerminal
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Action is a side effect the caller must perform after a transition. The
// transition function itself never touches the registry or the transport, so
// it stays testable without either.
type Action int

const (
	// ActionBroadcast publishes a fresh presence snapshot to all status
	// subscribers.
	ActionBroadcast Action = iota
	// ActionTeardown closes the connection (best effort) and deregisters the
	// peer. Always ordered before ActionBroadcast so the broadcast reflects
	// the removal.
	ActionTeardown
)

// Transition computes the next session state for a connection-state
// notification from the transport, plus the side effects the caller must run.
// A session already terminal never transitions again, so a duplicate terminal
// notification for the same peer yields no actions.
func Transition(current SessionState, event webrtc.PeerConnectionState) (SessionState, []Action) {
	if current == StateTerminal {
		return StateTerminal, nil
	}

	switch event {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting, nil
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, []Action{ActionBroadcast}
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
		webrtc.PeerConnectionStateDisconnected:
		return StateTerminal, []Action{ActionTeardown, ActionBroadcast}
	default:
		return current, nil
	}
}

// Tracker serializes state transitions for one peer. Pion may fire
// connection-state callbacks from different goroutines; the tracker
// guarantees the terminal transition is observed exactly once.
type Tracker struct {
	mu    sync.Mutex
	state SessionState
}

// Observe folds a transport notification into the tracked state and returns
// the actions the caller must execute. Callers must not hold any shared lock
// while executing them.
func (t *Tracker) Observe(event webrtc.PeerConnectionState) []Action {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, actions := Transition(t.state, event)
	t.state = next
	return actions
}

// State returns the current tracked state.
func (t *Tracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
