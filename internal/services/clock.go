package services

import "time"

// Clock abstracts wall-clock reads and timer creation so time-driven logic
// (cooldowns, acceptance deadlines) can be tested deterministically.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// realClock delegates to the time package.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the system clock.
func RealClock() Clock { return realClock{} }
