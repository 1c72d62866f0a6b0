// Package clock abstracts time for testability. Production code injects
// Real(); tests inject a Fake and advance it deterministically. The session
// timers (grace windows, approval timeouts, the stats ticker) go through a
// Clock; short retry backoffs in the provider and snapshot engine use real
// timers and are configured down to milliseconds in tests instead.
package clock

import "time"

// Clock provides the subset of the time package the broker uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f in its own goroutine. The
	// returned Timer can cancel the pending call with Stop.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks on C at the given interval. Panics if
	// d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer interface {
	// Stop cancels the pending call. Reports false if the call already
	// fired or was stopped.
	Stop() bool
}

// Ticker delivers periodic ticks. Call Stop to release it.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realClock struct{}

// Real returns the Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool { return rt.t.Stop() }

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) Chan() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()                  { rt.t.Stop() }
