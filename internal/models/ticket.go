// Package models defines the ticket, chat message and identity types
// shared by the store, the chat synchronizer and the router.
package models

import (
	"fmt"

	"github.com/guregu/null/v5"
)

// Status is a ticket lifecycle status.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAssigned Status = "assigned"
	StatusRejected Status = "rejected"
	StatusClosed   Status = "closed"
	// StatusReassigned is accepted on the wire for compatibility. No
	// transition produces it; reassignment is an attribute of closed.
	StatusReassigned Status = "reassigned"
	StatusInactive   Status = "inactive"
)

var knownStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusAssigned:   true,
	StatusRejected:   true,
	StatusClosed:     true,
	StatusReassigned: true,
	StatusInactive:   true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return knownStatuses[s] }

// ParseStatus validates a wire status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("models: unknown ticket status %q", s)
	}
	return st, nil
}

// Ticket is the normalized ticket row held by the store.
type Ticket struct {
	ID            TicketID    `json:"id"`
	Status        Status      `json:"status"`
	AssignedTo    NullID      `json:"assigned_to"`
	ReassignedTo  NullID      `json:"reassigned_to"`
	ClosureReason null.String `json:"closure_reason"`
	LastMessageAt NullTime    `json:"last_message_at"`
	// UnreadCount is local to this process and never sent by the collaborator.
	UnreadCount int `json:"unread_count"`

	Subject     string   `json:"subject,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	UserID      NullID   `json:"user_id"`
	CreatedAt   NullTime `json:"created_at"`
}

// TicketPatch is a partial ticket update. Nil fields are left untouched.
type TicketPatch struct {
	ID            TicketID
	Status        *Status
	AssignedTo    *NullID
	ReassignedTo  *NullID
	ClosureReason *null.String
	LastMessageAt *NullTime
	UnreadCount   *int
	Subject       *string
	Category      *string
	Priority      *string
}

// Merge returns t with every non-nil field of p applied.
func (t Ticket) Merge(p TicketPatch) Ticket {
	if t.ID == "" {
		t.ID = p.ID
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.ReassignedTo != nil {
		t.ReassignedTo = *p.ReassignedTo
	}
	if p.ClosureReason != nil {
		t.ClosureReason = *p.ClosureReason
	}
	if p.LastMessageAt != nil {
		t.LastMessageAt = *p.LastMessageAt
	}
	if p.UnreadCount != nil {
		t.UnreadCount = max(*p.UnreadCount, 0)
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	return t
}

// Assignee returns the assigned staff id, empty when unassigned.
func (t Ticket) Assignee() UserID { return t.AssignedTo.UserID() }
