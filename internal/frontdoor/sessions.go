package frontdoor

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/session"
)

// SessionsHandler serves the session admin surface.
type SessionsHandler struct {
	store  *session.Store
	logger *slog.Logger
}

// NewSessions builds the session admin handler.
func NewSessions(store *session.Store, logger *slog.Logger) *SessionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionsHandler{store: store, logger: logger}
}

// Register mounts the session routes.
func (h *SessionsHandler) Register(r chi.Router) {
	r.Get("/v1/sessions", h.HandleList)
	r.Get("/v1/sessions/stats", h.HandleStats)
	r.Get("/v1/sessions/{id}", h.HandleGet)
	r.Delete("/v1/sessions/{id}", h.HandleDelete)
}

type sessionSummary struct {
	ID            string   `json:"id"`
	MessageCount  int      `json:"message_count"`
	ExternalTools []string `json:"external_tools,omitempty"`
	CreatedAt     string   `json:"created_at"`
	LastAccess    string   `json:"last_access"`
}

func summarize(sess session.Session) sessionSummary {
	return sessionSummary{
		ID:            sess.ID,
		MessageCount:  len(sess.Messages),
		ExternalTools: sess.ExternalTools,
		CreatedAt:     sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		LastAccess:    sess.LastAccess.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.List()
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, summarize(sess))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   summaries,
	})
}

func (h *SessionsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": stats.ActiveSessions,
		"total_messages":  stats.TotalMessages,
		"ttl_seconds":     int(stats.TTL.Seconds()),
	})
}

func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := h.store.Get(id)
	if !ok {
		writeSessionNotFound(w, id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             sess.ID,
		"messages":       sess.Messages,
		"external_tools": sess.ExternalTools,
		"created_at":     sess.CreatedAt,
		"last_access":    sess.LastAccess,
	})
}

func (h *SessionsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.Delete(id) {
		writeSessionNotFound(w, id)
		return
	}

	h.logger.Info("session deleted", slog.String("session_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func writeSessionNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]string{
			"type":    "not_found_error",
			"message": "session not found: " + id,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
