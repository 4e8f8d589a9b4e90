// Package clock lets the poll loop wait through an injected time source so
// tests can advance time deterministically instead of sleeping.
//
// Production code uses Real(). Tests use Fake(), wait for the loop to
// register its timer with WaitForTimers, then call Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(500 * time.Millisecond)
package clock

import "time"

// Clock is the subset of the time package the loop depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
