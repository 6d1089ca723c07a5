// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the correlation ID injector, the structured access
// logger, and the panic recovery handler. Intended order in the chain:
// RequestID, then Logger, then Recovery, so panics and error responses carry
// the correlation ID and reach the request-scoped logger. The request-scoped
// zerolog.Logger is stored under the "logger" context key and retrieved with
// LoggerFrom.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation ID.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation ID to and from clients.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps the logged query string; trade filters are short,
	// anything longer is noise or abuse.
	maxQueryLogLength = 2048
)

// RequestID reuses an incoming X-Request-ID or generates a UUIDv4, stores it
// in the Gin context, and echoes it on the response. It must run before
// Logger so every access log line carries the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger emits one structured access log line per request and attaches a
// request-scoped zerolog.Logger to the context for handlers and services.
//
// The log level follows the outcome: error for 5xx or collected Gin errors,
// warn for 4xx, info otherwise. The user_id field is resolved the same way
// the handlers resolve identity, context value first and then the X-User-ID
// header, so access logs line up with workflow audit entries.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		uid := ""
		if v, ok := c.Get("userID"); ok {
			uid = asString(v)
		}
		if uid == "" {
			uid = c.GetHeader("X-User-ID")
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", uid).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		out := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			out.Error().Msg("request")
		case status >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery converts a panic into a 500 with the standard error envelope. The
// panic value and stack are logged with the correlation ID. When the handler
// already wrote a response, only the status is forced; the body is left
// alone.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by Logger, or the
// global logger when none is present. Never returns nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString unwraps a context value known to hold a string; anything else
// yields "".
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables the
// cap. Byte-level slicing can split a rune, which is acceptable in a log
// field.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
