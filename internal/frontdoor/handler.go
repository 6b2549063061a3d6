// Package frontdoor exposes the protocol endpoints over HTTP. The
// protocol-specific work lives in the codec; handlers here read the body,
// resolve the capability tier, and route to the streaming or blocking
// turn path.
package frontdoor

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/codec"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/gateway"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/server"
)

// maxBodyBytes bounds inbound request size.
const maxBodyBytes = 10 << 20

// Handler serves one protocol's completion endpoint.
type Handler struct {
	codec   codec.Codec
	gateway *gateway.Gateway
	path    string
	logger  *slog.Logger
}

// NewHandler builds a protocol handler mounted at path.
func NewHandler(c codec.Codec, gw *gateway.Gateway, path string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{codec: c, gateway: gw, path: path, logger: logger}
}

// Register mounts the handler's routes.
func (h *Handler) Register(r chi.Router) {
	r.Post(h.path, h.Handle)
}

// Handle serves one completion request.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	requestID := server.GetRequestID(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, domain.ErrParse("failed to read request body"))
		return
	}

	req, err := h.codec.ParseRequest(body)
	if err != nil {
		h.logger.Warn("request rejected",
			slog.String("request_id", requestID),
			slog.String("protocol", h.codec.Name()),
			slog.String("error", err.Error()))
		h.writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "protocol", h.codec.Name())
	server.AddLogField(r.Context(), "model", req.Model)
	server.AddLogField(r.Context(), "session_id", req.SessionID)

	tier := server.GetTier(r.Context())

	if req.Stream {
		h.handleStream(w, r, req, tier)
		return
	}

	result, err := h.gateway.RunTurn(r.Context(), req, tier, h.codec.Name())
	if err != nil {
		h.logTurnError(r, requestID, err)
		h.writeError(w, r, err)
		return
	}

	resp, err := h.codec.RenderComplete(result)
	if err != nil {
		h.writeError(w, r, domain.ErrServer("failed to render response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req *domain.CanonicalRequest, tier domain.CapabilityTier) {
	requestID := server.GetRequestID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, domain.ErrServer("streaming unsupported by connection"))
		return
	}

	stream := h.codec.NewStream(codec.StreamMeta{
		Model:        req.Model,
		IncludeUsage: req.StreamUsage,
	})

	// Headers are written lazily so setup failures can still produce a
	// JSON error response.
	started := false
	sink := func(frame []byte) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.gateway.StreamTurn(r.Context(), req, tier, h.codec.Name(), stream, sink)
	if err == nil {
		return
	}

	h.logTurnError(r, requestID, err)
	if !started {
		h.writeError(w, r, err)
		return
	}
	// Frames are already on the wire; the client sees the truncation.
	h.logger.Warn("stream aborted mid-flight",
		slog.String("request_id", requestID),
		slog.String("protocol", h.codec.Name()))
}

func (h *Handler) logTurnError(r *http.Request, requestID string, err error) {
	server.AddError(r.Context(), err)
	h.logger.Error("turn failed",
		slog.String("request_id", requestID),
		slog.String("protocol", h.codec.Name()),
		slog.String("error", err.Error()))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	status, body := h.codec.RenderError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
