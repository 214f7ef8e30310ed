// Package util holds small shared helpers: logging setup and the clock
// abstraction used to make time-dependent code testable.
package util

import "time"

// Clock abstracts wall time so tests can pin timestamps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }
