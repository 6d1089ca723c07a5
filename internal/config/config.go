// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the SQLite path, rate limiting, the
// Discord integration, middleman workflow timing, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DiscordConfig holds the bot credential and the identifiers the middleman
// workflow posts to. An empty BotToken or ChannelID disables the Discord
// side of the workflow; request rows are still created and thread creation
// can be retried once configuration is fixed.
type DiscordConfig struct {
	BotToken        string // DISCORD_BOT_TOKEN
	ChannelID       string // MIDDLEMAN_CHANNEL_ID (announcement + thread anchor channel)
	GuildID         string // GUILD_ID (optional, enables member pre-checks)
	MiddlemanRoleID string // MIDDLEMAN_ROLE_ID (optional role mention)
	GatewayEnabled  bool   // DISCORD_GATEWAY_ENABLED (reaction listener)
}

// Configured reports whether the REST side of the integration can run.
func (d DiscordConfig) Configured() bool {
	return d.BotToken != "" && d.ChannelID != ""
}

// MiddlemanConfig holds the workflow timing knobs. Defaults match the
// production behavior: a 20 minute initiation cooldown, a 5 minute
// acceptance window, a 1 second settle delay after thread creation, and a
// single member-add retry after 2 seconds on rate limits.
type MiddlemanConfig struct {
	CooldownWindow   time.Duration // MM_COOLDOWN_WINDOW
	AcceptWindow     time.Duration // MM_ACCEPT_WINDOW
	SettleDelay      time.Duration // MM_THREAD_SETTLE_DELAY
	MemberAddBackoff time.Duration // MM_MEMBER_ADD_BACKOFF
	AcceptEmoji      string        // MM_ACCEPT_EMOJI
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath  string // SQLite path
	BaseURL string // public site URL used in notifications

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Integrations
	Discord   DiscordConfig
	Middleman MiddlemanConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:  getenv("DB_PATH", "market.db"),
		BaseURL: strings.TrimRight(getenv("BASE_URL", "http://localhost:3000"), "/"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Discord integration
		Discord: DiscordConfig{
			BotToken:        getenv("DISCORD_BOT_TOKEN", ""),
			ChannelID:       getenv("MIDDLEMAN_CHANNEL_ID", ""),
			GuildID:         getenv("GUILD_ID", ""),
			MiddlemanRoleID: getenv("MIDDLEMAN_ROLE_ID", ""),
			GatewayEnabled:  getbool("DISCORD_GATEWAY_ENABLED", true),
		},

		// Middleman workflow timing
		Middleman: MiddlemanConfig{
			CooldownWindow:   getdur("MM_COOLDOWN_WINDOW", 20*time.Minute),
			AcceptWindow:     getdur("MM_ACCEPT_WINDOW", 5*time.Minute),
			SettleDelay:      getdur("MM_THREAD_SETTLE_DELAY", time.Second),
			MemberAddBackoff: getdur("MM_MEMBER_ADD_BACKOFF", 2*time.Second),
			AcceptEmoji:      getenv("MM_ACCEPT_EMOJI", "✅"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-market-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Middleman.CooldownWindow <= 0 {
		return cfg, errors.New("MM_COOLDOWN_WINDOW must be > 0")
	}
	if cfg.Middleman.AcceptWindow <= 0 {
		return cfg, errors.New("MM_ACCEPT_WINDOW must be > 0")
	}
	if cfg.Middleman.SettleDelay < 0 {
		return cfg, errors.New("MM_THREAD_SETTLE_DELAY must be >= 0")
	}
	if cfg.Middleman.AcceptEmoji == "" {
		return cfg, errors.New("MM_ACCEPT_EMOJI must not be empty")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
