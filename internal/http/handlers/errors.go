// Package handlers - errors.go
//
// Centralized, stable error codes returned to API clients in the `code`
// field of ErrorResponse. Codes are part of the public contract: clients
// branch on them, so they must never change meaning once released.
package handlers

// Stable machine-readable error codes.
const (
	// ErrCodeValidation indicates a malformed or semantically invalid request body.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a malformed path or query parameter.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnauthorized indicates a missing caller identity.
	ErrCodeUnauthorized = "unauthorized"

	// ErrCodeForbidden indicates the caller lacks the required role.
	ErrCodeForbidden = "forbidden"

	// ErrCodeNotFound indicates the requested resource does not exist.
	ErrCodeNotFound = "not_found"

	// ErrCodeConflict indicates the request conflicts with current resource state.
	ErrCodeConflict = "conflict"

	// ErrCodeCooldownActive indicates a middleman request was re-issued inside
	// the per-pair cooldown window. The response carries cooldown_remaining_ms.
	ErrCodeCooldownActive = "cooldown_active"

	// ErrCodeConsentRequired indicates a transition to accepted was attempted
	// before both trade parties accepted in the thread.
	ErrCodeConsentRequired = "consent_required"

	// ErrCodeDiscordUnavailable indicates the Discord integration is not
	// configured or the Discord API rejected the operation.
	ErrCodeDiscordUnavailable = "discord_unavailable"

	// ErrCodeRateLimited indicates the client exceeded the request rate limit.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an unexpected server-side failure.
	ErrCodeInternal = "internal_error"

	// ErrCodeMethodNotAllowed indicates the HTTP method is not supported
	// on the requested route.
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
