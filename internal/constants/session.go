// Package constants holds the default timings of the realtime session and
// the chat inactivity policy.
package constants

import "time"

// Realtime session defaults.
const (
	ConnectTimeout     = 15 * time.Second
	DialAttempts       = 5
	DialRetryDelay     = 2 * time.Second
	HandshakeTimeout   = 10 * time.Second
	WriteTimeout       = 10 * time.Second
	ReconnectBaseDelay = time.Second
	ReconnectMaxDelay  = 30 * time.Second
)

// Chat defaults.
const (
	InactivityTimeout = 120 * time.Second
	// InactivityReason is the closure reason recorded by the inactivity policy.
	InactivityReason = "inactivity"
	// EventDedupeWindow bounds how many event keys the router remembers.
	EventDedupeWindow = 4096
)

// Scheduler defaults.
const (
	ResyncSchedule = "@every 5m"
	UnreadSchedule = "@every 1m"
	SnapshotTTL    = 24 * time.Hour
)

// ReconnectDelay returns the wait before reconnect attempt n (zero based):
// min(base * 2^n, max).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := ReconnectBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ReconnectMaxDelay {
			return ReconnectMaxDelay
		}
	}
	return d
}
