package server

import (
	"context"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// TimeoutMiddleware bounds a request's context lifetime. A non-positive
// duration disables the bound, which deployments use when streaming turns
// may run long. Cancellation is cooperative: the turn observes ctx.Done()
// and abandons itself; nothing forcibly terminates the write path. The
// deadline carries an engine-timeout cause so context.Cause names the
// failure.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeoutCause(r.Context(), timeout,
				domain.ErrEngineTimeout("request exceeded the configured timeout"))
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
