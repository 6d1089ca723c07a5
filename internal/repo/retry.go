// Package repo implements the data persistence layer for domain entities.
//
// This file provides the shared bounded-retry wrapper applied to store
// operations. SQLite reports transient contention as "database is locked"
// (SQLITE_BUSY); those failures are retried a fixed number of times with a
// short fixed delay. Any other error is surfaced to the caller unmodified
// on the first attempt.
package repo

import (
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
)

const (
	// busyRetries is the number of retries after the initial attempt.
	busyRetries = 3
	// busyRetryDelay is the fixed wait between attempts.
	busyRetryDelay = 100 * time.Millisecond
)

// withBusyRetry runs op, retrying up to busyRetries times when the store
// reports transient contention. Non-busy errors stop the loop immediately.
func withBusyRetry(op func() error) error {
	var err error
	_ = retry.Retry(func(uint) error {
		err = op()
		if err == nil || !isBusy(err) {
			// Returning nil stops the retry loop; err carries the outcome.
			return nil
		}
		return err
	},
		strategy.Limit(1+busyRetries),
		strategy.Wait(busyRetryDelay),
	)
	return err
}

// isBusy reports whether err is SQLite lock contention. The pure-Go driver
// does not export a typed busy error, so this matches the known message
// forms for SQLITE_BUSY and SQLITE_LOCKED.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
