package rtc

// PeerInfo is the broadcastable identity of a peer, as it appears in
// peer_count status messages.
type PeerInfo struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// ICEConfig holds the ICE servers used when building peer connections.
type ICEConfig struct {
	STUN []string // STUN server URLs
	TURN []TURNServer
}

// TURNServer represents a TURN server
type TURNServer struct {
	URLs       []string
	Username   string
	Credential string
}
