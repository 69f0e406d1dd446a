package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/goatkit/ticketsync/internal/models"
)

func TestSystemMessages(t *testing.T) {
	assert.Equal(t, "Ticket closed. Reason: resolved", ClosedMessage("resolved", ""))
	assert.Equal(t, "Ticket closed. Reason: handover. Reassigned to member 9", ClosedMessage("handover", "9"))
	assert.Equal(t, "Ticket closed. Reason: not specified", ClosedMessage("  ", ""))
	assert.Equal(t, "Ticket has been reopened", ReopenedMessage())
	assert.Equal(t, "Ticket reassigned to Bo Diddley", ReassignedMessage("Bo Diddley", "3"))
	assert.Equal(t, "Ticket reassigned to member 3", ReassignedMessage("", "3"))
	assert.Equal(t, "Chat closed due to inactivity", InactiveMessage("inactivity"))
	assert.Equal(t, "Closed due to 24-hour inactivity", InactiveMessage("Closed due to 24-hour inactivity"))
}

func TestActivityOf(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 2 * time.Minute

	assert.Equal(t, Active, ActivityOf(models.TimeFrom(now.Add(-time.Minute)), now, window))
	assert.Equal(t, Inactive, ActivityOf(models.TimeFrom(now.Add(-window)), now, window))
	assert.Equal(t, Inactive, ActivityOf(models.NullTime{}, now, window))
}

func TestLastSeen(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", LastSeen(models.NullTime{}, now))
	assert.Contains(t, LastSeen(models.TimeFrom(now.Add(-5*time.Minute)), now), "ago")
}

func TestDayLabel(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 3, 2, 1, 0, 0, 0, loc)

	assert.Equal(t, "Today", DayLabel(now.Add(-30*time.Minute), now, loc))
	assert.Equal(t, "Yesterday", DayLabel(now.Add(-3*time.Hour), now, loc))
	assert.Equal(t, "Thu, Feb 27 2025", DayLabel(now.AddDate(0, 0, -3), now, loc))
	assert.Equal(t, "Today", DayLabel(now, now, nil))
}
