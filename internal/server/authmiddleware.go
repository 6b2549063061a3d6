package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// tierContextKey is the context key for the request's capability tier.
type tierContextKey struct{}

// AuthMiddleware validates API keys and injects the resolved capability
// tier into the request context. An open authenticator (no keys
// configured) grants every request the full tier without a credential.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator.Open() {
				ctx := context.WithValue(r.Context(), tierContextKey{}, domain.TierFull)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeAuthError(w, err.Error())
				return
			}

			tier, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeAuthError(w, "invalid API key")
				return
			}

			AddLogField(r.Context(), "tier", string(tier))
			ctx := context.WithValue(r.Context(), tierContextKey{}, tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTier retrieves the capability tier from context. Requests that did
// not pass through AuthMiddleware get the none tier.
func GetTier(ctx context.Context) domain.CapabilityTier {
	if tier, ok := ctx.Value(tierContextKey{}).(domain.CapabilityTier); ok {
		return tier
	}
	return domain.TierNone
}

func writeAuthError(w http.ResponseWriter, message string) {
	apiErr := domain.ErrAuthentication(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    "authentication_error",
			"message": message,
		},
	})
}
