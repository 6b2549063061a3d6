package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Errorf("minted id = %q, want req_ prefix", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Errorf("header id %q != context id %q", got, seen)
	}
}

func TestRequestIDMiddleware_HonorsInboundID(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-Id", "req_upstream")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req_upstream" {
		t.Errorf("id = %q, want inbound id preserved", seen)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "session_id", "s1")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadlineSet bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadlineSet = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !deadlineSet {
		t.Error("context deadline not set")
	}
}

func TestTimeoutMiddleware_ZeroDisables(t *testing.T) {
	var deadlineSet bool
	handler := TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadlineSet = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if deadlineSet {
		t.Error("zero timeout should leave the context unbounded")
	}
}

func TestAuthMiddleware(t *testing.T) {
	authenticator := auth.NewAuthenticator(map[string]domain.CapabilityTier{
		auth.HashAPIKey("sk-full"):    domain.TierFull,
		auth.HashAPIKey("sk-builtin"): domain.TierBuiltin,
	})

	var tier domain.CapabilityTier
	handler := AuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier = GetTier(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantTier   domain.CapabilityTier
	}{
		{"valid full key", "Bearer sk-full", http.StatusOK, domain.TierFull},
		{"valid builtin key", "Bearer sk-builtin", http.StatusOK, domain.TierBuiltin},
		{"unknown key", "Bearer sk-wrong", http.StatusUnauthorized, ""},
		{"missing header", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier = ""
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/v1/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantTier != "" && tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", tier, tt.wantTier)
			}
		})
	}
}

func TestAuthMiddleware_OpenMode(t *testing.T) {
	handler := AuthMiddleware(auth.NewAuthenticator(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetTier(r.Context()) != domain.TierFull {
			t.Errorf("open mode tier = %s", GetTier(r.Context()))
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetTier_Default(t *testing.T) {
	if got := GetTier(context.Background()); got != domain.TierNone {
		t.Errorf("default tier = %s, want none", got)
	}
}
