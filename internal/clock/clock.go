// Package clock abstracts the time operations used by pollers so tests
// can drive them in virtual time.
package clock

import "time"

// Clock is the subset of the time package the sync engine depends on.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call
	// was stopped before it fired.
	Stop() bool
}
