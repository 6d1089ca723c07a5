// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/config"
	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/events"
	"github.com/zrx-market/go-market-backend/internal/http/handlers"
	"github.com/zrx-market/go-market-backend/internal/http/middleware"
	"github.com/zrx-market/go-market-backend/internal/repo"
	"github.com/zrx-market/go-market-backend/internal/services"
)

// consentRepoShim adapts the repository free functions to the
// services.ConsentRepo interface expected by the ConsentService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type consentRepoShim struct{}

// GetTrade proxies repo.GetTrade.
func (consentRepoShim) GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error) {
	return repo.GetTrade(ctx, db, id)
}

// FindCounterparty proxies repo.FindCounterparty.
func (consentRepoShim) FindCounterparty(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (string, error) {
	return repo.FindCounterparty(ctx, db, tradeID, userID)
}

// GetCooldown proxies repo.GetCooldown.
func (consentRepoShim) GetCooldown(ctx context.Context, db *gorm.DB, userID string) (*domain.MiddlemanCooldown, error) {
	return repo.GetCooldown(ctx, db, userID)
}

// TouchCooldown proxies repo.TouchCooldown.
func (consentRepoShim) TouchCooldown(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	return repo.TouchCooldown(ctx, db, userID, at)
}

// FindRequestByTradePair proxies repo.FindRequestByTradePair.
func (consentRepoShim) FindRequestByTradePair(ctx context.Context, db *gorm.DB, tradeID int64, userA, userB string) (*domain.MiddlemanRequest, error) {
	return repo.FindRequestByTradePair(ctx, db, tradeID, userA, userB)
}

// LatestRequestForTradeUser proxies repo.LatestRequestForTradeUser.
func (consentRepoShim) LatestRequestForTradeUser(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (*domain.MiddlemanRequest, error) {
	return repo.LatestRequestForTradeUser(ctx, db, tradeID, userID)
}

// CreateMiddlemanRequest proxies repo.CreateMiddlemanRequest.
func (consentRepoShim) CreateMiddlemanRequest(ctx context.Context, db *gorm.DB, m *domain.MiddlemanRequest) error {
	return repo.CreateMiddlemanRequest(ctx, db, m)
}

// GetMiddlemanRequest proxies repo.GetMiddlemanRequest.
func (consentRepoShim) GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error) {
	return repo.GetMiddlemanRequest(ctx, db, id)
}

// SetPartyRequested proxies repo.SetPartyRequested.
func (consentRepoShim) SetPartyRequested(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error) {
	return repo.SetPartyRequested(ctx, db, id, party)
}

// PromoteIfBothRequested proxies repo.PromoteIfBothRequested.
func (consentRepoShim) PromoteIfBothRequested(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return repo.PromoteIfBothRequested(ctx, db, id)
}

// requestRepoShim adapts the repository free functions to the request-centric
// service interfaces (thread orchestration, acceptance watching, status
// transitions, and request CRUD).
type requestRepoShim struct{}

func (requestRepoShim) CreateMiddlemanRequest(ctx context.Context, db *gorm.DB, m *domain.MiddlemanRequest) error {
	return repo.CreateMiddlemanRequest(ctx, db, m)
}

func (requestRepoShim) GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error) {
	return repo.GetMiddlemanRequest(ctx, db, id)
}

func (requestRepoShim) ListPendingRequests(ctx context.Context, db *gorm.DB) ([]repo.RequestWithUser, error) {
	return repo.ListPendingRequests(ctx, db)
}

func (requestRepoShim) ListRequests(ctx context.Context, db *gorm.DB, status string) ([]repo.RequestWithUser, error) {
	return repo.ListRequests(ctx, db, status)
}

func (requestRepoShim) ListOpenThreads(ctx context.Context, db *gorm.DB) ([]domain.MiddlemanRequest, error) {
	return repo.ListOpenThreads(ctx, db)
}

func (requestRepoShim) SetThreadLinkage(ctx context.Context, db *gorm.DB, id int64, threadID, messageID string) (bool, error) {
	return repo.SetThreadLinkage(ctx, db, id, threadID, messageID)
}

func (requestRepoShim) SetAcceptMessage(ctx context.Context, db *gorm.DB, id int64, messageID string) (bool, error) {
	return repo.SetAcceptMessage(ctx, db, id, messageID)
}

func (requestRepoShim) SetPartyAccepted(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error) {
	return repo.SetPartyAccepted(ctx, db, id, party)
}

func (requestRepoShim) MarkDeclinedIfLive(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return repo.MarkDeclinedIfLive(ctx, db, id)
}

func (requestRepoShim) UpdateRequestStatus(ctx context.Context, db *gorm.DB, id int64, status, middlemanID string) error {
	return repo.UpdateRequestStatus(ctx, db, id, status, middlemanID)
}

func (requestRepoShim) AppendAuditLog(ctx context.Context, db *gorm.DB, actorID, action, targetID string, details any) error {
	return repo.AppendAuditLog(ctx, db, actorID, action, targetID, details)
}

func (requestRepoShim) UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.UpsertUser(ctx, db, u)
}

// tradeRepoShim adapts the repository free functions to services.TradeRepo.
type tradeRepoShim struct{}

func (tradeRepoShim) CreateTrade(ctx context.Context, db *gorm.DB, t *domain.Trade) error {
	return repo.CreateTrade(ctx, db, t)
}

func (tradeRepoShim) GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error) {
	return repo.GetTrade(ctx, db, id)
}

func (tradeRepoShim) ListTrades(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Trade, error) {
	return repo.ListTrades(ctx, db, creatorID, offset, limit)
}

func (tradeRepoShim) CountTrades(ctx context.Context, db *gorm.DB, creatorID string) (int64, error) {
	return repo.CountTrades(ctx, db, creatorID)
}

func (tradeRepoShim) DeleteTrade(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.DeleteTrade(ctx, db, id)
}

// reportRepoShim adapts the repository free functions to services.ReportRepo.
type reportRepoShim struct{}

func (reportRepoShim) CreateReport(ctx context.Context, db *gorm.DB, r *domain.Report) error {
	return repo.CreateReport(ctx, db, r)
}

func (reportRepoShim) ListReports(ctx context.Context, db *gorm.DB, status string) ([]domain.Report, error) {
	return repo.ListReports(ctx, db, status)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under /api/v*.
//
// It constructs the application services from db, dc, and bus, and returns
// the acceptance watcher so the caller can wire gateway reactions into it and
// re-arm deadlines for threads that survived a restart.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Structured request logging
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, dc *discord.Client, bus *events.Bus, cfg config.Config, log zerolog.Logger) *services.AcceptanceWatcher {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured request logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// Compress responses; Prometheus scrapes stay uncompressed.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/discord/bus
	threadSvc := &services.ThreadService{
		DB:               db,
		Repo:             requestRepoShim{},
		Discord:          dc,
		ChannelID:        cfg.Discord.ChannelID,
		GuildID:          cfg.Discord.GuildID,
		RoleID:           cfg.Discord.MiddlemanRoleID,
		SettleDelay:      cfg.Middleman.SettleDelay,
		MemberAddBackoff: cfg.Middleman.MemberAddBackoff,
		AcceptWindow:     cfg.Middleman.AcceptWindow,
		AcceptEmoji:      cfg.Middleman.AcceptEmoji,
		Clock:            services.RealClock(),
		Log:              log,
	}

	watcher := services.NewAcceptanceWatcher(db, requestRepoShim{}, dc, cfg.Middleman.AcceptWindow, cfg.Middleman.AcceptEmoji, log)
	watcher.Events = bus

	consentSvc := services.NewConsentService(db, consentRepoShim{}, threadSvc, cfg.Middleman.CooldownWindow, log)
	statusSvc := services.NewStatusService(db, requestRepoShim{}, bus, log)
	mmSvc := services.NewMiddlemanService(db, requestRepoShim{}, threadSvc, threadSvc, watcher, log)
	tradeSvc := services.NewTradeService(db, tradeRepoShim{})
	reportSvc := services.NewReportService(db, reportRepoShim{})

	h := handlers.New(consentSvc, mmSvc, threadSvc, statusSvc, watcher, tradeSvc, reportSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Middleman requests
		api.POST("/middleman", h.CreateRequest)
		api.GET("/middleman/pending", h.ListPendingRequests)
		api.GET("/middleman/all", h.ListAllRequests)
		api.GET("/middleman/:id", h.GetRequest)
		api.POST("/middleman/:id/create-thread", h.CreateThread)
		api.PATCH("/middleman/:id/status", h.UpdateStatus)

		// Chat-initiated consent flow
		api.POST("/middleman/request-from-chat", h.RequestFromChat)
		api.GET("/middleman/chat-status/:tradeId", h.ChatStatus)

		// Trades
		api.POST("/trades", h.CreateTrade)
		api.GET("/trades", h.ListTrades)
		api.GET("/trades/:id", h.GetTrade)
		api.DELETE("/trades/:id", h.DeleteTrade)

		// Reports
		api.POST("/reports", h.CreateReport)
		api.GET("/reports", h.ListReports)
	}

	return watcher
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
