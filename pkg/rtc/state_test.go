package rtc

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestTransitionConnectedBroadcasts(t *testing.T) {
	next, actions := Transition(StateConnecting, webrtc.PeerConnectionStateConnected)

	if next != StateConnected {
		t.Errorf("expected connected state, got %s", next)
	}
	if len(actions) != 1 || actions[0] != ActionBroadcast {
		t.Errorf("expected a single broadcast action, got %v", actions)
	}
}

func TestTransitionTerminalOrdersTeardownBeforeBroadcast(t *testing.T) {
	for _, ev := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
		webrtc.PeerConnectionStateDisconnected,
	} {
		next, actions := Transition(StateConnected, ev)
		if next != StateTerminal {
			t.Errorf("%s: expected terminal state, got %s", ev, next)
		}
		if len(actions) != 2 || actions[0] != ActionTeardown || actions[1] != ActionBroadcast {
			t.Errorf("%s: expected [teardown, broadcast], got %v", ev, actions)
		}
	}
}

func TestTransitionTerminalIsAbsorbing(t *testing.T) {
	// A second terminal notification, in the same or a different terminal
	// state, produces no actions.
	next, actions := Transition(StateTerminal, webrtc.PeerConnectionStateClosed)
	if next != StateTerminal || actions != nil {
		t.Errorf("terminal state should absorb further events, got %s %v", next, actions)
	}

	// Even a late "connected" cannot resurrect the session
	next, actions = Transition(StateTerminal, webrtc.PeerConnectionStateConnected)
	if next != StateTerminal || actions != nil {
		t.Errorf("terminal peer must not be resurrected, got %s %v", next, actions)
	}
}

func TestTrackerDeliversTeardownExactlyOnce(t *testing.T) {
	var tr Tracker

	teardowns := 0
	for _, acts := range [][]Action{
		tr.Observe(webrtc.PeerConnectionStateFailed),
		tr.Observe(webrtc.PeerConnectionStateFailed),
		tr.Observe(webrtc.PeerConnectionStateClosed),
	} {
		for _, a := range acts {
			if a == ActionTeardown {
				teardowns++
			}
		}
	}

	if teardowns != 1 {
		t.Errorf("expected exactly one teardown, got %d", teardowns)
	}
}

// TestTrackerConcurrentTerminalNotifications simulates the transport firing
// terminal callbacks from several goroutines at once: exactly one of them
// may win the teardown.
func TestTrackerConcurrentTerminalNotifications(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	var mu sync.Mutex
	teardowns := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range tr.Observe(webrtc.PeerConnectionStateDisconnected) {
				if a == ActionTeardown {
					mu.Lock()
					teardowns++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if teardowns != 1 {
		t.Errorf("expected exactly one teardown across all goroutines, got %d", teardowns)
	}
}
