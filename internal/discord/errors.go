// This file defines the error taxonomy for REST calls.
//
// 401 means the bot credential itself is bad and is treated as a fatal
// configuration error by callers. 403 and 404 are per-call recoverable: the
// workflow logs them and continues. 429 carries the server-suggested wait so
// callers can apply their one-shot retry.
package discord

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when the client is constructed without a bot
// token or the caller has no target channel configured.
var ErrNotConfigured = errors.New("discord: bot token or channel not configured")

// APIError is a non-2xx response from the Discord API. Body is truncated for
// logging; the bot credential is never part of it.
type APIError struct {
	Status     int
	Method     string
	Path       string
	Body       string
	RetryAfter time.Duration // populated on 429 responses
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("discord: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// statusIs reports whether err is an APIError with the given status code.
func statusIs(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// IsUnauthorized reports an invalid bot credential (fatal).
func IsUnauthorized(err error) bool { return statusIs(err, http.StatusUnauthorized) }

// IsForbidden reports a per-call permission failure (recoverable).
func IsForbidden(err error) bool { return statusIs(err, http.StatusForbidden) }

// IsNotFound reports a missing channel, message, or member (recoverable).
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsRateLimited reports a 429 response. RetryAfterOf extracts the suggested
// wait.
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// RetryAfterOf returns the server-suggested wait from a rate-limit error,
// or def when none was provided.
func RetryAfterOf(err error, def time.Duration) time.Duration {
	var ae *APIError
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return ae.RetryAfter
	}
	return def
}
