package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/poseview/posegate/pkg/rtc"
)

// Sink is an outbound status destination capable of receiving serialized
// text messages.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Snapshot is the peer_count message sent to every subscriber on connect and
// after every registry-affecting event.
type Snapshot struct {
	Type  string         `json:"type"`
	Count int            `json:"count"`
	Peers []rtc.PeerInfo `json:"peers"`
}

// NewSnapshot builds a peer_count message from a registry snapshot.
func NewSnapshot(peers []rtc.PeerInfo) Snapshot {
	if peers == nil {
		peers = []rtc.PeerInfo{}
	}
	return Snapshot{Type: "peer_count", Count: len(peers), Peers: peers}
}

// Manager owns the status subscriptions and fans registry snapshots out to
// them. Subscriptions have a lifecycle independent of any peer: created on
// channel open, removed on first send failure or explicit close.
type Manager struct {
	mu     sync.Mutex
	sinks  map[string]Sink
	source func() []rtc.PeerInfo
	logger *slog.Logger
}

// NewManager creates a subscription manager. source derives the current
// presence snapshot, typically Registry.Snapshot.
func NewManager(source func() []rtc.PeerInfo, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		sinks:  make(map[string]Sink),
		source: source,
		logger: logger,
	}
}

// Subscribe sends the baseline snapshot to the sink and, on success,
// registers it under a fresh subscription id. The baseline goes out before
// registration so the subscriber always sees a consistent starting point
// before any incremental broadcast.
func (m *Manager) Subscribe(sink Sink) (string, error) {
	payload, err := json.Marshal(NewSnapshot(m.source()))
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	if err := sink.Send(payload); err != nil {
		return "", fmt.Errorf("initial snapshot send failed: %w", err)
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sinks[id] = sink
	n := len(m.sinks)
	m.mu.Unlock()

	m.logger.Info("status subscriber connected", "subscriptionID", id, "subscribers", n)

	return id, nil
}

// Unsubscribe removes a subscription. Idempotent; never touches any peer.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	_, exists := m.sinks[id]
	delete(m.sinks, id)
	n := len(m.sinks)
	m.mu.Unlock()

	if exists {
		m.logger.Info("status subscriber disconnected", "subscriptionID", id, "subscribers", n)
	}
}

// Broadcast serializes the current snapshot and delivers it to every
// subscription. A sink whose send fails is dropped from future broadcasts;
// delivery to the remaining sinks continues regardless. Sends happen outside
// the subscription lock.
func (m *Manager) Broadcast() {
	payload, err := json.Marshal(NewSnapshot(m.source()))
	if err != nil {
		m.logger.Error("failed to serialize snapshot", "error", err)
		return
	}

	m.mu.Lock()
	targets := make(map[string]Sink, len(m.sinks))
	for id, sink := range m.sinks {
		targets[id] = sink
	}
	m.mu.Unlock()

	for id, sink := range targets {
		if err := sink.Send(payload); err != nil {
			m.logger.Warn("removing dead status subscriber", "subscriptionID", id, "error", err)
			m.Unsubscribe(id)
			if cerr := sink.Close(); cerr != nil {
				m.logger.Debug("failed to close evicted status subscriber", "subscriptionID", id, "error", cerr)
			}
		}
	}
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// CloseAll closes every subscription, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sinks := make([]Sink, 0, len(m.sinks))
	for _, sink := range m.sinks {
		sinks = append(sinks, sink)
	}
	m.sinks = make(map[string]Sink)
	m.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			m.logger.Debug("failed to close status subscriber", "error", err)
		}
	}
}
