package pose

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Request is an inbound pose_request data-channel message.
type Request struct {
	Type  string `json:"type"`
	Image string `json:"image"`
}

// Response is the pose_response sent back on the requesting peer's channel.
type Response struct {
	Type          string  `json:"type"`
	Image         string  `json:"image"`
	ExecutionTime float64 `json:"execution_time"`
}

// Processor runs the per-message frame pipeline: decode, mirror, transform,
// encode, respond. Every failure is contained to the message that caused it;
// nothing here can take down a peer's session or touch another peer.
type Processor struct {
	transformer Transformer
	logger      *slog.Logger
}

// NewProcessor creates a frame processor backed by the given transformer.
func NewProcessor(transformer Transformer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{transformer: transformer, logger: logger}
}

// Process handles one pose_request for the identified peer. send delivers
// the response on that peer's data channel and fails if the channel is gone,
// in which case the result is dropped with a warning. Process never returns
// an error: all failures are terminal for this message only.
func (p *Processor) Process(ctx context.Context, peerID string, req Request, send func([]byte) error) {
	img, err := DecodeFrame(req.Image)
	if err != nil {
		p.logger.Error("invalid frame payload", "peerID", peerID, "error", err)
		return
	}

	mirrored := Mirror(img)

	start := time.Now()
	result, err := p.transformer.Transform(ctx, mirrored, Options{IncludeHands: true, IncludeFace: true})
	if err != nil {
		p.logger.Error("pose transform failed", "peerID", peerID, "error", err)
		return
	}
	elapsed := time.Since(start)

	encoded, err := EncodeFrame(result, jpegQuality)
	if err != nil {
		p.logger.Error("failed to encode result frame", "peerID", peerID, "error", err)
		return
	}

	payload, err := json.Marshal(Response{
		Type:          "pose_response",
		Image:         encoded,
		ExecutionTime: elapsed.Seconds(),
	})
	if err != nil {
		p.logger.Error("failed to serialize pose response", "peerID", peerID, "error", err)
		return
	}

	if err := send(payload); err != nil {
		p.logger.Warn("dropping pose response", "peerID", peerID, "error", err)
		return
	}

	p.logger.Debug("pose response sent", "peerID", peerID, "executionTime", elapsed.Seconds())
}
