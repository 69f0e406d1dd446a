package models

import (
	"time"

	json "github.com/json-iterator/go"
)

// MessageID is the collaborator's message identifier.
type MessageID = UserID

// ChatMessage is one entry of a ticket's chat log.
type ChatMessage struct {
	ID        MessageID `json:"id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	TicketID  TicketID  `json:"ticket_id"`
	SenderID  NullID    `json:"sender_id"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"is_system"`
	// Pending marks a local send the server has not echoed yet.
	Pending bool `json:"pending,omitempty"`
}

// MessageKey is the identity of a message inside a log.
type MessageKey struct {
	TicketID  TicketID
	Timestamp string
	SenderID  string
}

// Key returns the (ticket, timestamp, sender) identity of m.
func (m ChatMessage) Key() MessageKey {
	sender := ""
	if m.SenderID.Valid {
		sender = m.SenderID.String.String
	}
	return MessageKey{
		TicketID:  m.TicketID,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		SenderID:  sender,
	}
}

// UnmarshalJSON decodes the collaborator's message shape, which uses
// zoneless timestamps on history endpoints.
func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID        MessageID `json:"id"`
		ClientID  string    `json:"client_id"`
		TicketID  TicketID  `json:"ticket_id"`
		SenderID  NullID    `json:"sender_id"`
		Body      string    `json:"message"`
		Timestamp NullTime  `json:"timestamp"`
		IsSystem  bool      `json:"is_system"`
		Pending   bool      `json:"pending"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*m = ChatMessage{
		ID:        wire.ID,
		ClientID:  wire.ClientID,
		TicketID:  wire.TicketID,
		SenderID:  wire.SenderID,
		Body:      wire.Body,
		Timestamp: wire.Timestamp.Time.Time,
		IsSystem:  wire.IsSystem || !wire.SenderID.Valid,
		Pending:   wire.Pending,
	}
	return nil
}
