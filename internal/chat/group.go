package chat

import (
	"time"

	"github.com/goatkit/ticketsync/internal/models"
)

// DayGroup is the messages of one calendar day.
type DayGroup struct {
	Date     string               `json:"date"`
	Day      time.Time            `json:"day"`
	Messages []models.ChatMessage `json:"messages"`
}

// GroupByDay buckets messages by calendar day in loc. Groups follow the
// order in which their first message appears, and messages keep their
// log order inside a group.
func GroupByDay(messages []models.ChatMessage, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	index := make(map[string]int)
	for _, m := range messages {
		local := m.Timestamp.In(loc)
		date := local.Format(time.DateOnly)
		i, ok := index[date]
		if !ok {
			y, mo, d := local.Date()
			groups = append(groups, DayGroup{Date: date, Day: time.Date(y, mo, d, 0, 0, 0, 0, loc)})
			i = len(groups) - 1
			index[date] = i
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}
