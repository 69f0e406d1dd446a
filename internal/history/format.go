// Package history renders the human readable text of synthetic chat
// messages and the relative activity labels shown next to tickets.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/xeonx/timeago"

	"github.com/goatkit/ticketsync/internal/models"
)

// ClosedMessage is the system line appended when a ticket closes.
func ClosedMessage(reason string, reassignedTo models.UserID) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "not specified"
	}
	msg := "Ticket closed. Reason: " + reason
	if reassignedTo != "" {
		msg += fmt.Sprintf(". Reassigned to member %s", reassignedTo)
	}
	return msg
}

// ReopenedMessage is the system line appended when a ticket reopens.
func ReopenedMessage() string { return "Ticket has been reopened" }

// ReassignedMessage is the system line appended on a handover. The
// member's display name is preferred over the bare id.
func ReassignedMessage(memberName string, to models.UserID) string {
	who := strings.TrimSpace(memberName)
	if who == "" {
		who = "member " + string(to)
	}
	return "Ticket reassigned to " + who
}

// InactiveMessage is the system line appended when a chat times out.
func InactiveMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" || reason == "inactivity" {
		return "Chat closed due to inactivity"
	}
	return reason
}

// MarkedInactiveMessage is the system line appended when the
// collaborator marks a chat inactive without closing it.
func MarkedInactiveMessage(reason string) string {
	if reason = strings.TrimSpace(reason); reason != "" {
		return reason
	}
	return "Ticket marked as inactive"
}

// Activity is the derived active/inactive label of a ticket.
type Activity string

const (
	Active   Activity = "active"
	Inactive Activity = "inactive"
)

// ActivityOf reports whether the last message falls inside window.
// A ticket without messages is inactive.
func ActivityOf(last models.NullTime, now time.Time, window time.Duration) Activity {
	if !last.Valid || now.Sub(last.Time.Time) >= window {
		return Inactive
	}
	return Active
}

// LastSeen renders lastMessageAt relative to now, e.g. "5 minutes ago".
func LastSeen(last models.NullTime, now time.Time) string {
	if !last.Valid {
		return "never"
	}
	return timeago.English.FormatReference(last.Time.Time, now)
}

// DayLabel names the calendar day of day as seen from now in loc.
func DayLabel(day, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	y1, m1, d1 := day.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	today := time.Date(y2, m2, d2, 0, 0, 0, 0, loc)
	switch time.Date(y1, m1, d1, 0, 0, 0, 0, loc) {
	case today:
		return "Today"
	case today.AddDate(0, 0, -1):
		return "Yesterday"
	}
	return day.In(loc).Format("Mon, Jan 2 2006")
}
