// Package events defines the server-to-client realtime events as a closed
// set of types. Payloads are validated here; anything unknown or
// malformed is rejected before it can reach the store.
package events

import (
	"github.com/goatkit/ticketsync/internal/models"
)

// Name is a realtime event name.
type Name string

const (
	NameNewTicket                Name = "new_ticket"
	NameTicketClosed             Name = "ticket_closed"
	NameTicketReopened           Name = "ticket_reopened"
	NameTicketReassigned         Name = "ticket_reassigned"
	NameChatInactive             Name = "chat_inactive"
	NameMessage                  Name = "message"
	NameTicketStatusUpdate       Name = "ticket_status_update"
	NameReassignmentNotification Name = "reassignment_notification"
	NameTicketAccepted           Name = "ticket_accepted"
	NameTicketRejected           Name = "ticket_rejected"
	NameTicketUpdated            Name = "ticket_updated"
	NameTicketInactive           Name = "ticket_inactive"
	NameError                    Name = "error"
)

// Event is one decoded server event. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	Name() Name
	Ticket() models.TicketID
	// Stamp is the logical timestamp carried by the payload, empty when
	// the payload has none.
	Stamp() string
	isEvent()
}

type header struct {
	TicketID  models.TicketID
	Timestamp string
}

func (h header) Ticket() models.TicketID { return h.TicketID }
func (h header) Stamp() string           { return h.Timestamp }
func (header) isEvent()                  {}

// NewTicket announces a ticket that was just filed.
type NewTicket struct {
	header
	Category string
	Priority string
	Subject  string
}

func (NewTicket) Name() Name { return NameNewTicket }

// TicketClosed reports a persisted close, possibly with a reassignment.
type TicketClosed struct {
	header
	Reason       string
	ReassignedTo models.UserID
}

func (TicketClosed) Name() Name { return NameTicketClosed }

// TicketReopened reports a persisted reopen.
type TicketReopened struct {
	header
}

func (TicketReopened) Name() Name { return NameTicketReopened }

// TicketReassigned reports a plain reassignment.
type TicketReassigned struct {
	header
	PreviousAssignee models.UserID
	AssignedTo       models.UserID
	ReassignedBy     models.UserID
	MemberName       string
}

func (TicketReassigned) Name() Name { return NameTicketReassigned }

// ChatInactive reports a ticket closed for inactivity.
type ChatInactive struct {
	header
	Reason string
}

func (ChatInactive) Name() Name { return NameChatInactive }

// TicketInactive reports a ticket the collaborator marked inactive. It
// stays open for a later close.
type TicketInactive struct {
	header
	Reason string
}

func (TicketInactive) Name() Name { return NameTicketInactive }

// ServerError is the server refusing the last thing this session sent,
// usually a chat message. It may carry no ticket id.
type ServerError struct {
	header
	Message string
}

func (ServerError) Name() Name { return NameError }

// Message carries one chat message. Its ticket id may be empty when the
// server only sends to the room; the router attributes it to the open
// stream.
type Message struct {
	header
	Message models.ChatMessage
}

func (Message) Name() Name { return NameMessage }

// StatusUpdate is an authoritative status snapshot. With no ticket id or
// status it asks the client to re-fetch. It covers ticket_status_update
// and ticket_updated.
type StatusUpdate struct {
	header
	Event  Name
	Status models.Status
}

func (s StatusUpdate) Name() Name { return s.Event }

// Refetch reports whether the event only asks for a re-fetch.
func (s StatusUpdate) Refetch() bool { return s.TicketID == "" || s.Status == "" }

// ReassignmentNotification tells the new assignee about a handover.
type ReassignmentNotification struct {
	header
	Message  string
	Category string
	Priority string
}

func (ReassignmentNotification) Name() Name { return NameReassignmentNotification }

// TicketAccepted reports a persisted accept.
type TicketAccepted struct {
	header
	MemberID models.UserID
}

func (TicketAccepted) Name() Name { return NameTicketAccepted }

// TicketRejected reports a persisted reject.
type TicketRejected struct {
	header
}

func (TicketRejected) Name() Name { return NameTicketRejected }
