// Package server assembles the HTTP surface: the chi router, the shared
// middleware chain, and the listener lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
)

// Server wraps the chi router and the HTTP listener.
type Server struct {
	Router *chi.Mux
	Port   int

	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the router with the standard middleware chain. Routes
// registered through Protected pass API key validation; everything else
// (health, admin surface) skips it.
func New(port int, requestTimeout time.Duration, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "agent-gateway")
	})

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     r,
		ReadTimeout: requestTimeout,
		// Streaming responses outlive the request timeout; write
		// deadlines are left to the handler's context.
	}
	return s
}

// Protected registers routes behind the auth middleware. Routes added
// directly to Router stay open.
func (s *Server) Protected(authenticator *auth.Authenticator, register func(chi.Router)) {
	s.Router.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authenticator))
		register(r)
	})
}

// Start runs the listener until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.Int("port", s.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("server draining")
	return s.httpServer.Shutdown(shutdownCtx)
}
