package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/config"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/engine"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/frontdoor"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/gateway"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/server"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/session"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage/memory"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/telemetry"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/tokens"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load .env file if one exists.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := telemetry.InitTracer("agent-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Interaction store.
	var store storage.InteractionStore
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
	default:
		store = memory.New()
	}
	defer store.Close()

	// Session store with background TTL sweeper.
	sessions := session.New(
		session.WithTTL(cfg.Session.TTL()),
		session.WithSweepInterval(cfg.Session.SweepInterval()),
		session.WithLogger(logger),
	)
	sessions.Start(ctx)

	eng := engine.NewSubprocess(cfg.Engine.Command, cfg.Engine.Args,
		engine.WithIdleTimeout(cfg.Engine.IdleTimeout()))

	gw := gateway.New(eng,
		gateway.WithSessions(sessions),
		gateway.WithInteractionStore(store),
		gateway.WithTokenEstimator(tokens.NewEstimator()),
		gateway.WithLogger(logger),
	)

	tiers, err := cfg.Auth.TierMap()
	if err != nil {
		log.Fatalf("Invalid auth config: %v", err)
	}
	authenticator := auth.NewAuthenticator(tiers)
	if authenticator.Open() {
		logger.Warn("no API keys configured, all requests run at the full tier")
	}

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout(), logger)

	srv.Protected(authenticator, func(r chi.Router) {
		frontdoor.NewAnthropic(gw, logger).Register(r)
		frontdoor.NewOpenAI(gw, logger).Register(r)
	})
	frontdoor.NewSessions(sessions, logger).Register(srv.Router)

	logger.Info("gateway configured",
		slog.Int("port", cfg.Server.Port),
		slog.String("engine", cfg.Engine.Command),
		slog.String("storage", cfg.Storage.Backend),
		slog.Duration("session_ttl", cfg.Session.TTL()))

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}
