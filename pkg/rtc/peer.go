package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Peer is a single client's negotiated session: a generated identifier, the
// user-chosen display handle, the owning peer connection, and the data
// channel once the client opens one. ID and Handle are immutable after
// creation.
type Peer struct {
	ID     string
	Handle string

	pc *webrtc.PeerConnection

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	inflight  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewPeer wraps a freshly created peer connection.
func NewPeer(id, handle string, pc *webrtc.PeerConnection) *Peer {
	return &Peer{ID: id, Handle: handle, pc: pc}
}

// SetDataChannel records the data channel opened by the client. The reference
// transitions once from absent to present; any later channel is ignored.
func (p *Peer) SetDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc == nil {
		p.dc = dc
	}
}

// ChannelOpen reports whether the peer's data channel exists and is open.
func (p *Peer) ChannelOpen() bool {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send writes a text payload on the peer's data channel. It fails if the
// channel was never opened or is no longer open.
func (p *Peer) Send(payload []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("peer %s has no data channel", p.ID)
	}
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel for peer %s is %s", p.ID, dc.ReadyState())
	}
	return dc.SendText(string(payload))
}

// SetInflightLimit sizes the peer's transform admission slots. Set once
// during negotiation, before any message can arrive. The slots belong to the
// peer, so every data channel the client opens draws from the same bound.
func (p *Peer) SetInflightLimit(n int) {
	p.inflight = make(chan struct{}, n)
}

// TryAcquire claims an admission slot without blocking. A peer with no limit
// configured admits everything.
func (p *Peer) TryAcquire() bool {
	if p.inflight == nil {
		return true
	}
	select {
	case p.inflight <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot claimed by TryAcquire.
func (p *Peer) Release() {
	if p.inflight == nil {
		return
	}
	<-p.inflight
}

// InflightLimit returns the configured slot count, 0 when unlimited.
func (p *Peer) InflightLimit() int {
	return cap(p.inflight)
}

// Connection exposes the underlying peer connection so the negotiation
// handler can install lifecycle callbacks before negotiating.
func (p *Peer) Connection() *webrtc.PeerConnection {
	return p.pc
}

// CreateAnswer applies the remote offer, produces the local answer and waits
// for ICE gathering to complete so the answer SDP carries the server's
// candidates (the negotiation endpoint does not trickle).
func (p *Peer) CreateAnswer(ctx context.Context, offerSDP string) (webrtc.SessionDescription, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	return *p.pc.LocalDescription(), nil
}

// Close closes the underlying connection. Safe to call more than once; the
// first error is retained.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

// Info returns the peer's presence record.
func (p *Peer) Info() PeerInfo {
	return PeerInfo{ID: p.ID, Handle: p.Handle}
}
