// Command server runs the marketplace backend: the HTTP API, the SQLite
// store, and the Discord integration (announcements, acceptance threads, and
// the gateway reaction listener).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/zrx-market/go-market-backend/internal/bot"
	"github.com/zrx-market/go-market-backend/internal/config"
	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/events"
	httpapi "github.com/zrx-market/go-market-backend/internal/http"
	"github.com/zrx-market/go-market-backend/internal/observability"
	"github.com/zrx-market/go-market-backend/internal/repo"
	"github.com/zrx-market/go-market-backend/internal/sysutil"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	// Context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := newLogger(cfg)
	gin.SetMode(cfg.GinMode)

	// Tracing (no-op unless enabled).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Store.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Discord REST client; stays inert when no token is configured.
	dc := discord.NewClient(cfg.Discord.BotToken)
	if !cfg.Discord.Configured() {
		log.Warn().Msg("discord is not configured; announcements and threads are disabled")
	}

	// Workflow event bus.
	bus := events.NewBus(log)
	defer func() { _ = bus.Close() }()

	// Router + services; returns the acceptance watcher for bot wiring.
	engine := gin.New()
	watcher := httpapi.RegisterRoutes(engine, db, dc, bus, cfg, log)

	// Re-arm deadlines for threads that survived a restart.
	if err := watcher.Rediscover(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to rediscover open acceptance threads")
	}

	// Bot glue: gateway reactions in, moderator decisions out.
	b := bot.New(watcher, dc, bus, log)
	go func() {
		if err := b.Run(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()
	if cfg.Discord.GatewayEnabled && cfg.Discord.Configured() {
		gw := discord.NewGateway(cfg.Discord.BotToken, b.ReactionHandler(), log)
		go func() {
			if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("gateway stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Stop the server when the signal context fires.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("version", version).Msg("http server listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}

	// Armed acceptance deadlines are not drained here; Rediscover re-arms
	// them on the next start.
	log.Info().Msg("shutdown complete")
}

// newLogger builds the process logger from config (level, pretty console in dev).
func newLogger(cfg config.Config) zerolog.Logger {
	sysutil.SetLogLevel(cfg.LogLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}
