package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/poseview/posegate/pkg/pose"
	"github.com/poseview/posegate/pkg/rtc"
	"github.com/poseview/posegate/pkg/status"
)

const (
	// defaultMaxInflight bounds concurrent transforms per peer. Requests
	// beyond the bound are dropped, not queued, so a flooding peer can
	// neither exhaust the process nor block its own message callback.
	defaultMaxInflight = 2

	negotiationTimeout = 15 * time.Second
)

// Config holds gateway configuration, enumerated once at startup.
type Config struct {
	// Password is the shared admission secret checked on every offer.
	Password string
	// ICE lists the STUN/TURN servers handed to new peer connections.
	ICE rtc.ICEConfig
	// MaxInflight bounds concurrent transforms per peer (default 2).
	MaxInflight int
	Logger      *slog.Logger
}

// Gateway wires negotiation, the peer registry, presence broadcasts and the
// frame pipeline together. Each peer's callbacks run concurrently with every
// other peer's; only registry and subscription mutations are serialized.
type Gateway struct {
	cfg       Config
	registry  *rtc.Registry
	status    *status.Manager
	processor *pose.Processor
	logger    *slog.Logger
}

// New creates a gateway backed by the given transformer.
func New(cfg Config, transformer pose.Transformer) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}

	g := &Gateway{
		cfg:    cfg,
		logger: cfg.Logger,
	}
	g.registry = rtc.NewRegistry(cfg.Logger)
	g.status = status.NewManager(g.registry.Snapshot, cfg.Logger)
	g.processor = pose.NewProcessor(transformer, cfg.Logger)

	return g
}

// Registry exposes the peer registry for health reporting.
func (g *Gateway) Registry() *rtc.Registry {
	return g.registry
}

// Status exposes the status subscription manager.
func (g *Gateway) Status() *status.Manager {
	return g.status
}

// Negotiate creates and registers a peer for the offer, completes the SDP
// exchange and returns the local answer. The peer is registry-visible before
// this returns successfully; on failure nothing is left behind.
func (g *Gateway) Negotiate(ctx context.Context, offerSDP, handle string) (webrtc.SessionDescription, string, error) {
	pc, err := g.newPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, "", fmt.Errorf("failed to create peer connection: %w", err)
	}

	peerID := uuid.NewString()
	peer := rtc.NewPeer(peerID, handle, pc)
	peer.SetInflightLimit(g.cfg.MaxInflight)

	if err := g.registry.Register(peer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, "", fmt.Errorf("failed to register peer: %w", err)
	}

	// Callbacks go in before any negotiation step that could yield a
	// connected state, so no transition is ever missed.
	g.wirePeer(peer)

	negCtx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()

	answer, err := peer.CreateAnswer(negCtx, offerSDP)
	if err != nil {
		g.registry.Deregister(peerID)
		if cerr := peer.Close(); cerr != nil {
			g.logger.Error("failed to close peer after failed negotiation", "peerID", peerID, "error", cerr)
		}
		return webrtc.SessionDescription{}, "", err
	}

	// The broadcast reflects current registry state, so it is safe whether or
	// not the connection later succeeds.
	g.status.Broadcast()

	g.logger.Info("peer negotiated", "peerID", peerID, "handle", handle)

	return answer, peerID, nil
}

// newPeerConnection builds a peer connection from the configured ICE servers.
func (g *Gateway) newPeerConnection() (*webrtc.PeerConnection, error) {
	var cfg webrtc.Configuration

	for _, stunURL := range g.cfg.ICE.STUN {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs: []string{stunURL},
		})
	}
	for _, turn := range g.cfg.ICE.TURN {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       turn.URLs,
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}

	return webrtc.NewPeerConnection(cfg)
}

// wirePeer installs the data-channel and lifecycle callbacks for a peer.
func (g *Gateway) wirePeer(peer *rtc.Peer) {
	tracker := &rtc.Tracker{}
	pc := peer.Connection()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		g.logger.Info("data channel received", "peerID", peer.ID, "label", dc.Label())
		peer.SetDataChannel(dc)

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			g.handleMessage(peer, msg)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		g.handleStateChange(peer, tracker, state)
	})
}

// handleStateChange reacts to a transport lifecycle notification: the pure
// transition decides, this method executes the side effects in order.
func (g *Gateway) handleStateChange(peer *rtc.Peer, tracker *rtc.Tracker, state webrtc.PeerConnectionState) {
	g.logger.Info("connection state changed", "peerID", peer.ID, "state", state.String())

	for _, action := range tracker.Observe(state) {
		switch action {
		case rtc.ActionTeardown:
			g.teardown(peer)
		case rtc.ActionBroadcast:
			g.status.Broadcast()
		}
	}
}

// teardown closes the connection (best effort) and removes the peer from the
// registry. It runs concurrently with other peers' teardowns; no shared lock
// spans the close.
func (g *Gateway) teardown(peer *rtc.Peer) {
	if err := peer.Close(); err != nil {
		g.logger.Error("failed to close peer connection", "peerID", peer.ID, "error", err)
	}
	g.registry.Deregister(peer.ID)
}

// handleMessage routes one inbound data-channel message. Malformed payloads
// are dropped with a log; the channel stays usable.
func (g *Gateway) handleMessage(peer *rtc.Peer, msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		g.logger.Debug("dropping binary data channel message", "peerID", peer.ID)
		return
	}

	var req pose.Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		g.logger.Error("invalid data channel message", "peerID", peer.ID, "error", err)
		return
	}

	switch req.Type {
	case "pose_request":
		// Admission slots live on the peer, so requests arriving on any of
		// the peer's data channels count against one bound.
		if !peer.TryAcquire() {
			g.logger.Warn("dropping pose request, too many in flight",
				"peerID", peer.ID, "maxInflight", peer.InflightLimit())
			return
		}

		go func() {
			defer peer.Release()
			g.processor.Process(context.Background(), peer.ID, req, peer.Send)
		}()
	default:
		// Peer-to-peer relay is deliberately unimplemented.
		g.logger.Debug("ignoring unhandled message type", "peerID", peer.ID, "type", req.Type)
	}
}

// Close tears down every peer and status subscription, for shutdown.
func (g *Gateway) Close() {
	g.registry.CloseAll()
	g.status.CloseAll()
}
