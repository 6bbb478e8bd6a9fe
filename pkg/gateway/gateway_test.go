package gateway

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/poseview/posegate/pkg/pose"
	"github.com/poseview/posegate/pkg/rtc"
)

// countingSink tallies status messages delivered to it.
type countingSink struct {
	mu   sync.Mutex
	sent int
}

func (s *countingSink) Send([]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

func (s *countingSink) Close() error { return nil }

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// blockingTransformer parks every call until released, to hold transforms
// in flight.
type blockingTransformer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTransformer) Transform(_ context.Context, img image.Image, _ pose.Options) (image.Image, error) {
	b.started <- struct{}{}
	<-b.release
	return img, nil
}

func registeredTestPeer(t *testing.T, g *Gateway) *rtc.Peer {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("failed to create peer connection: %v", err)
	}

	peer := rtc.NewPeer("test-peer", "alice", pc)
	peer.SetInflightLimit(g.cfg.MaxInflight)
	if err := g.Registry().Register(peer); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return peer
}

// TestTerminalNotificationTearsDownOnce delivers the same terminal
// notification twice (and a second terminal state for good measure): the
// peer is removed exactly once and exactly one broadcast follows.
func TestTerminalNotificationTearsDownOnce(t *testing.T) {
	g := newTestGateway(t)
	peer := registeredTestPeer(t, g)

	sink := &countingSink{}
	if _, err := g.Status().Subscribe(sink); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	baseline := sink.count() // the subscribe-time snapshot

	tracker := &rtc.Tracker{}
	g.handleStateChange(peer, tracker, webrtc.PeerConnectionStateFailed)
	g.handleStateChange(peer, tracker, webrtc.PeerConnectionStateFailed)
	g.handleStateChange(peer, tracker, webrtc.PeerConnectionStateClosed)

	if g.Registry().Len() != 0 {
		t.Errorf("expected peer removed, registry has %d", g.Registry().Len())
	}
	if got := sink.count() - baseline; got != 1 {
		t.Errorf("expected exactly one teardown broadcast, got %d", got)
	}
}

func TestConnectedNotificationBroadcasts(t *testing.T) {
	g := newTestGateway(t)
	peer := registeredTestPeer(t, g)
	defer peer.Close()

	sink := &countingSink{}
	g.Status().Subscribe(sink)
	baseline := sink.count()

	tracker := &rtc.Tracker{}
	g.handleStateChange(peer, tracker, webrtc.PeerConnectionStateConnecting)
	g.handleStateChange(peer, tracker, webrtc.PeerConnectionStateConnected)

	if got := sink.count() - baseline; got != 1 {
		t.Errorf("expected one broadcast on connect, got %d", got)
	}
	if g.Registry().Len() != 1 {
		t.Errorf("connected peer must stay registered, registry has %d", g.Registry().Len())
	}
}

func TestHandleMessageMalformedPayloadIsDropped(t *testing.T) {
	g := newTestGateway(t)
	peer := registeredTestPeer(t, g)
	defer peer.Close()

	// Invalid JSON and binary frames are dropped without consuming a slot
	g.handleMessage(peer, webrtc.DataChannelMessage{IsString: true, Data: []byte("{not json")})
	g.handleMessage(peer, webrtc.DataChannelMessage{IsString: false, Data: []byte{0x01, 0x02}})

	for i := 0; i < peer.InflightLimit(); i++ {
		if !peer.TryAcquire() {
			t.Fatal("dropped messages must not consume in-flight slots")
		}
	}
}

func TestHandleMessageUnknownTypeIgnored(t *testing.T) {
	g := newTestGateway(t)
	peer := registeredTestPeer(t, g)
	defer peer.Close()

	g.handleMessage(peer, webrtc.DataChannelMessage{IsString: true, Data: []byte(`{"type":"chat","text":"hi"}`)})

	for i := 0; i < peer.InflightLimit(); i++ {
		if !peer.TryAcquire() {
			t.Fatal("relayed message types must not consume in-flight slots")
		}
	}
}

// TestHandleMessageBoundsInflightPerPeer floods a peer past its in-flight
// bound: the excess request is dropped rather than queued. The slots belong
// to the peer, so this holds no matter which data channel delivers the
// messages.
func TestHandleMessageBoundsInflightPerPeer(t *testing.T) {
	bt := &blockingTransformer{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	g := New(Config{Password: "sekrit", MaxInflight: 1}, bt)
	t.Cleanup(g.Close)
	t.Cleanup(func() { close(bt.release) })

	peer := registeredTestPeer(t, g)
	defer peer.Close()

	encoded, err := pose.EncodeFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)), 85)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	payload, _ := json.Marshal(pose.Request{Type: "pose_request", Image: encoded})
	msg := webrtc.DataChannelMessage{IsString: true, Data: payload}

	g.handleMessage(peer, msg)

	// Wait for the first transform to be in flight
	select {
	case <-bt.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first transform never started")
	}

	// Second request arrives while the first is still running: dropped
	g.handleMessage(peer, msg)

	select {
	case <-bt.started:
		t.Error("second transform should have been dropped")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestNewPeerConnectionCarriesICEServers checks that configured STUN and
// TURN servers all end up on the peer connection, credentials included.
func TestNewPeerConnectionCarriesICEServers(t *testing.T) {
	g := New(Config{
		Password: "sekrit",
		ICE: rtc.ICEConfig{
			STUN: []string{"stun:stun.example.com:3478"},
			TURN: []rtc.TURNServer{{
				URLs:       []string{"turn:turn.example.com:3478"},
				Username:   "relay-user",
				Credential: "relay-pass",
			}},
		},
	}, pose.Loopback{})
	t.Cleanup(g.Close)

	pc, err := g.newPeerConnection()
	if err != nil {
		t.Fatalf("failed to create peer connection: %v", err)
	}
	defer pc.Close()

	servers := pc.GetConfiguration().ICEServers
	if len(servers) != 2 {
		t.Fatalf("expected 2 ICE servers, got %d", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("unexpected STUN server: %+v", servers[0])
	}
	turn := servers[1]
	if turn.URLs[0] != "turn:turn.example.com:3478" || turn.Username != "relay-user" || turn.Credential != "relay-pass" {
		t.Errorf("unexpected TURN server: %+v", turn)
	}
}
