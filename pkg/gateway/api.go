package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// handlePattern is the allow-list for display handles.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// offerRequest is the negotiation endpoint payload.
type offerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	Password string `json:"password"`
	Handle   string `json:"handle,omitempty"`
}

// offerResponse carries the locally generated answer.
type offerResponse struct {
	SDP    string `json:"sdp"`
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandleOffer handles POST /offer: admission checks first (no side effects
// on rejection), then peer creation, negotiation and a presence broadcast.
// A client that receives a success response is guaranteed its peer is
// already registry-visible.
func (g *Gateway) HandleOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Password != g.cfg.Password {
		writeError(w, http.StatusForbidden, "invalid password")
		return
	}

	handle := req.Handle
	if handle == "" {
		handle = "User" + uuid.NewString()[:6]
	}
	if !handlePattern.MatchString(handle) {
		writeError(w, http.StatusBadRequest, "handle must contain only letters, numbers, and underscores")
		return
	}

	answer, peerID, err := g.Negotiate(r.Context(), req.SDP, handle)
	if err != nil {
		g.logger.Error("negotiation failed", "handle", handle, "error", err)
		writeError(w, http.StatusInternalServerError, "negotiation failed")
		return
	}

	json.NewEncoder(w).Encode(offerResponse{
		SDP:    answer.SDP,
		Type:   answer.Type.String(),
		PeerID: peerID,
	})
}

// HandleHealth is the liveness probe.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "ok")
}

// HandleHealthz reports gateway state for operators.
func (g *Gateway) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"peers":       g.registry.Len(),
		"subscribers": g.status.Count(),
		"timestamp":   time.Now().Unix(),
	})
}

// HandleMetrics exposes plain-text gauges.
func (g *Gateway) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "# HELP posegate_peers_active Number of active peers\n")
	fmt.Fprintf(w, "# TYPE posegate_peers_active gauge\n")
	fmt.Fprintf(w, "posegate_peers_active %d\n", g.registry.Len())
	fmt.Fprintf(w, "# HELP posegate_status_subscribers Number of status subscribers\n")
	fmt.Fprintf(w, "# TYPE posegate_status_subscribers gauge\n")
	fmt.Fprintf(w, "posegate_status_subscribers %d\n", g.status.Count())
}

// CORS wraps a handler with the cross-origin policy of the configured
// origin. OPTIONS preflights short-circuit.
func CORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
