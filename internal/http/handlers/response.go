// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response helpers. Every failure goes through
// fail(), which writes the standard error envelope and logs 5xx responses
// with the request-scoped logger, so all endpoints produce the same shape:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "middleman request not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zrx-market/go-market-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. Code is a
// stable machine-readable string from errors.go; Message is safe to show to
// users; RequestID echoes X-Request-ID so client reports can be matched to
// server logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"middleman request not found"`
}

// fail aborts the request with the error envelope. Statuses at or above 500
// are logged with request context; client errors are only visible in the
// access log.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail exposes fail to the router for NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response with the given status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
