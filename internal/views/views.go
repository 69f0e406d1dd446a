// Package views holds the read-only projections the ticket list screens
// show: search, status filter, ordering and the activity label.
package views

import (
	"sort"
	"strings"
	"time"

	"github.com/goatkit/ticketsync/internal/history"
	"github.com/goatkit/ticketsync/internal/models"
)

// SortKey orders a ticket list.
type SortKey string

const (
	SortCreated     SortKey = "created"
	SortLastMessage SortKey = "last_message"
	SortPriority    SortKey = "priority"
)

// Query selects and orders tickets. Zero values select everything in
// id order.
type Query struct {
	Status models.Status
	Search string
	Sort   SortKey
	Desc   bool
}

// Apply filters tickets by q and sorts the result. The input is not
// modified.
func Apply(tickets []models.Ticket, q Query) []models.Ticket {
	out := make([]models.Ticket, 0, len(tickets))
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	for _, t := range tickets {
		if q.Status != "" && !statusMatches(t, q.Status) {
			continue
		}
		if needle != "" && !matches(t, needle) {
			continue
		}
		out = append(out, t)
	}
	Sort(out, q.Sort, q.Desc)
	return out
}

// statusMatches treats the legacy "reassigned" filter as closed tickets
// carrying a handover target.
func statusMatches(t models.Ticket, want models.Status) bool {
	if want == models.StatusReassigned {
		return t.Status == models.StatusReassigned || (t.Status == models.StatusClosed && t.ReassignedTo.Valid)
	}
	return t.Status == want
}

func matches(t models.Ticket, needle string) bool {
	fields := []string{
		string(t.ID), t.Subject, t.Description, t.Category, t.Priority,
		string(t.Status), string(t.Assignee()),
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

var priorityRank = map[string]int{"urgent": 4, "high": 3, "medium": 2, "low": 1}

// Sort orders tickets in place by key. Ties and unknown keys fall back
// to id order.
func Sort(tickets []models.Ticket, key SortKey, desc bool) {
	less := func(a, b models.Ticket) int {
		switch key {
		case SortCreated:
			return compareTime(a.CreatedAt, b.CreatedAt)
		case SortLastMessage:
			return compareTime(a.LastMessageAt, b.LastMessageAt)
		case SortPriority:
			return priorityRank[strings.ToLower(a.Priority)] - priorityRank[strings.ToLower(b.Priority)]
		}
		return 0
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		c := less(tickets[i], tickets[j])
		if c == 0 {
			return tickets[i].ID < tickets[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareTime orders null before any instant.
func compareTime(a, b models.NullTime) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return -1
	case !b.Valid:
		return 1
	}
	return a.Time.Time.Compare(b.Time.Time)
}

// Row is one line of a ticket list.
type Row struct {
	models.Ticket
	Activity history.Activity `json:"activity"`
	LastSeen string           `json:"last_seen"`
}

// Rows decorates tickets with their activity label at now.
func Rows(tickets []models.Ticket, now time.Time, window time.Duration) []Row {
	out := make([]Row, len(tickets))
	for i, t := range tickets {
		out[i] = Row{
			Ticket:   t,
			Activity: history.ActivityOf(t.LastMessageAt, now, window),
			LastSeen: history.LastSeen(t.LastMessageAt, now),
		}
	}
	return out
}

// Counts returns how many tickets are in each status.
func Counts(tickets []models.Ticket) map[models.Status]int {
	out := make(map[models.Status]int)
	for _, t := range tickets {
		out[t.Status]++
	}
	return out
}
