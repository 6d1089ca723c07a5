// Package services defines the business logic for trades, middleman requests,
// consent tracking, acceptance threads, and status transitions. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTradeNotFound indicates that the referenced trade does not exist.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrRequestNotFound indicates that the requested middleman request does
	// not exist.
	ErrRequestNotFound = errors.New("middleman request not found")

	// ErrCounterpartyUnknown is returned when no second participant can be
	// resolved for the trade, so there is nobody to ask for consent.
	ErrCounterpartyUnknown = errors.New("no counterparty found for trade")

	// ErrInvalidStatus is returned when a status transition names a value
	// outside the allowed set.
	ErrInvalidStatus = errors.New("invalid status value")

	// ErrConsentNotMet is returned when a moderator tries to accept a request
	// before both participants have opted in.
	ErrConsentNotMet = errors.New("both users must accept before proceeding")

	// ErrDiscordUnavailable is returned when the workflow needs Discord but
	// the integration is not configured.
	ErrDiscordUnavailable = errors.New("discord integration is not configured")
)

// ThrottledError reports that a user initiated the consent workflow again
// before the cooldown window elapsed. Remaining is rounded up to the next
// second so clients never display a zero wait for a still-active cooldown.
type ThrottledError struct {
	Remaining time.Duration
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	return fmt.Sprintf("please wait %s before requesting again", e.Remaining.Round(time.Second))
}

// Throttled unwraps err into a *ThrottledError when it is one.
func Throttled(err error) (*ThrottledError, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
