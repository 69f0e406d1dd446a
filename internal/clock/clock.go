// Package clock abstracts the time source used by timers in the engine so
// that inactivity and backoff behavior can be driven deterministically.
package clock

import "time"

// Clock is the subset of the time package the engine depends on.
type Clock interface {
	Now() time.Time
	// After delivers the current time on the returned channel once d elapses.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once d elapses. f runs on its own goroutine for the
	// real clock and synchronously inside Advance for the fake one.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the pending call. It reports whether the call was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Reset reschedules the call to run d from now. It reports whether the
// call was still pending before the reset.
func (t *Timer) Reset(d time.Duration) bool {
	if t == nil || t.reset == nil {
		return false
	}
	return t.reset(d)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop, reset: t.Reset}
}
