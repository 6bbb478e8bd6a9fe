package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrDuplicateID indicates a registration collision. Identifiers are
// generated UUIDs, so hitting this is an internal invariant violation rather
// than a user-facing condition.
var ErrDuplicateID = errors.New("peer identifier already registered")

// Registry is the authoritative in-memory set of active peers and the source
// of truth for presence broadcasts. Register, Deregister and Snapshot are
// mutually exclusive; no I/O ever runs under the lock.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]*Peer
	logger *slog.Logger
}

// NewRegistry creates an empty peer registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		peers:  make(map[string]*Peer),
		logger: logger,
	}
}

// Register inserts a new peer.
func (r *Registry) Register(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}

	r.peers[p.ID] = p
	r.logger.Info("peer registered", "peerID", p.ID, "handle", p.Handle, "peers", len(r.peers))

	return nil
}

// Deregister removes a peer if present and reports whether removal occurred.
// Idempotent: connection-state handling can race with other teardown paths,
// so a second call for the same id is a no-op returning false.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; !exists {
		return false
	}

	delete(r.peers, id)
	r.logger.Info("peer deregistered", "peerID", id, "peers", len(r.peers))

	return true
}

// Get returns a peer by identifier, or nil.
func (r *Registry) Get(id string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

// Snapshot returns a point-in-time copy of peer identities, sorted by id.
// Callers never see live registry entries.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.RLock()
	infos := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		infos = append(infos, p.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CloseAll drains the registry and closes every connection, for shutdown.
// Connections are closed outside the lock since Close can block.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			r.logger.Error("failed to close peer during shutdown", "peerID", p.ID, "error", err)
		}
	}
}
