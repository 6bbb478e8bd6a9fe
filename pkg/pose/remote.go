package pose

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// remoteFrame is the wire format of the external pose service: one base64
// JPEG per text message in each direction.
type remoteFrame struct {
	Image string `json:"image"`
}

// RemoteTransformer calls an external pose-detection service over a
// persistent WebSocket. The service protocol is strict request/response with
// no correlation ids, so calls are serialized here; a broken connection is
// dropped and re-dialed on the next call.
type RemoteTransformer struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemoteTransformer creates a client for the pose service at url
// (a ws:// or wss:// endpoint). The connection is dialed lazily.
func NewRemoteTransformer(url string, logger *slog.Logger) *RemoteTransformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteTransformer{url: url, logger: logger}
}

// Transform sends the frame to the pose service and decodes the annotated
// frame it returns. Hand/face options travel implicitly: the service always
// renders full detail.
func (r *RemoteTransformer) Transform(ctx context.Context, img image.Image, _ Options) (image.Image, error) {
	encoded, err := EncodeFrame(img, jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame for transport: %w", err)
	}

	req, err := json.Marshal(remoteFrame{Image: encoded})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("failed to read transform result: %w", err)
	}

	var resp remoteFrame
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transform result: %w", err)
	}

	result, err := DecodeFrame(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("pose service returned an undecodable frame: %w", err)
	}

	return result, nil
}

// connLocked returns the live connection, dialing if needed. Caller holds mu.
func (r *RemoteTransformer) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pose service: %w", err)
	}

	r.logger.Info("connected to pose service", "url", r.url)
	r.conn = conn

	return conn, nil
}

// resetLocked drops a broken connection so the next call re-dials.
func (r *RemoteTransformer) resetLocked() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Close closes the connection to the pose service.
func (r *RemoteTransformer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil

	return err
}
