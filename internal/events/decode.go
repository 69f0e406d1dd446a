package events

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/json-iterator/go"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/convert"
	"github.com/goatkit/ticketsync/internal/models"
)

// wire is the union of every payload field. Both the collaborator's
// snake_case keys and the camelCase aliases are accepted.
type wire struct {
	TicketID         json.RawMessage `json:"ticket_id"`
	TicketIDCamel    json.RawMessage `json:"ticketId"`
	ID               json.RawMessage `json:"id"`
	SenderID         json.RawMessage `json:"sender_id"`
	SenderIDCamel    json.RawMessage `json:"senderId"`
	Message          *string         `json:"message"`
	Body             *string         `json:"body"`
	Timestamp        string          `json:"timestamp"`
	IsSystem         bool            `json:"is_system"`
	Reason           string          `json:"reason"`
	ReassignedTo     json.RawMessage `json:"reassigned_to"`
	AssignedTo       json.RawMessage `json:"assigned_to"`
	PreviousAssignee json.RawMessage `json:"previous_assignee"`
	ReassignedBy     json.RawMessage `json:"reassigned_by"`
	MemberName       string          `json:"member_name"`
	MemberID         json.RawMessage `json:"member_id"`
	Status           string          `json:"status"`
	Category         string          `json:"category"`
	Priority         string          `json:"priority"`
	Subject          string          `json:"subject"`
}

// Known reports whether name is a routed event.
func Known(name string) bool {
	switch Name(name) {
	case NameNewTicket, NameTicketClosed, NameTicketReopened, NameTicketReassigned,
		NameChatInactive, NameMessage, NameTicketStatusUpdate, NameReassignmentNotification,
		NameTicketAccepted, NameTicketRejected, NameTicketUpdated, NameTicketInactive, NameError:
		return true
	}
	return false
}

// Decode validates payload against the schema of name.
func Decode(name string, payload []byte) (Event, error) {
	if !Known(name) {
		return nil, fmt.Errorf("%w: %q", apierrors.ErrUnknownEvent, name)
	}
	n := Name(name)

	var w wire
	payload = bytes.TrimSpace(payload)
	empty := len(payload) == 0 || bytes.Equal(payload, []byte("null"))
	if !empty {
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, malformed(n, "payload is not an object: %v", err)
		}
	}

	ticket, err := firstID(w.TicketID, w.TicketIDCamel)
	if err != nil {
		return nil, malformed(n, "ticket_id: %v", err)
	}
	h := header{TicketID: models.TicketID(ticket), Timestamp: w.Timestamp}

	switch n {
	case NameMessage:
		return decodeMessage(h, w)
	case NameTicketStatusUpdate, NameTicketUpdated:
		ev := StatusUpdate{header: h, Event: n}
		if w.Status != "" {
			st, err := models.ParseStatus(w.Status)
			if err != nil {
				return nil, malformed(n, "%v", err)
			}
			ev.Status = st
		}
		return ev, nil
	case NameError:
		msg := ""
		if w.Message != nil {
			msg = *w.Message
		}
		return ServerError{header: h, Message: msg}, nil
	}

	if h.TicketID == "" {
		return nil, malformed(n, "missing ticket_id")
	}

	switch n {
	case NameNewTicket:
		return NewTicket{header: h, Category: w.Category, Priority: w.Priority, Subject: w.Subject}, nil
	case NameTicketClosed:
		target, err := optionalID(w.ReassignedTo)
		if err != nil {
			return nil, malformed(n, "reassigned_to: %v", err)
		}
		return TicketClosed{header: h, Reason: w.Reason, ReassignedTo: target}, nil
	case NameTicketReopened:
		return TicketReopened{header: h}, nil
	case NameTicketReassigned:
		to, err := optionalID(w.AssignedTo)
		if err != nil || to == "" {
			return nil, malformed(n, "assigned_to missing or invalid")
		}
		prev, _ := optionalID(w.PreviousAssignee)
		by, _ := optionalID(w.ReassignedBy)
		return TicketReassigned{header: h, AssignedTo: to, PreviousAssignee: prev, ReassignedBy: by, MemberName: w.MemberName}, nil
	case NameChatInactive:
		return ChatInactive{header: h, Reason: w.Reason}, nil
	case NameTicketInactive:
		if w.Status != "" && w.Status != string(models.StatusInactive) {
			return nil, malformed(n, "unexpected status %q", w.Status)
		}
		return TicketInactive{header: h, Reason: w.Reason}, nil
	case NameReassignmentNotification:
		msg := ""
		if w.Message != nil {
			msg = *w.Message
		}
		return ReassignmentNotification{header: h, Message: msg, Category: w.Category, Priority: w.Priority}, nil
	case NameTicketAccepted:
		member, err := optionalID(w.MemberID)
		if err != nil || member == "" {
			return nil, malformed(n, "member_id missing or invalid")
		}
		return TicketAccepted{header: h, MemberID: member}, nil
	case NameTicketRejected:
		return TicketRejected{header: h}, nil
	}
	return nil, fmt.Errorf("%w: %q", apierrors.ErrUnknownEvent, name)
}

func decodeMessage(h header, w wire) (Event, error) {
	body := w.Message
	if body == nil {
		body = w.Body
	}
	if body == nil {
		return nil, malformed(NameMessage, "missing message body")
	}
	sender, err := firstID(w.SenderID, w.SenderIDCamel)
	if err != nil {
		return nil, malformed(NameMessage, "sender_id: %v", err)
	}
	msgID, _ := optionalID(w.ID)

	var ts time.Time
	if w.Timestamp != "" {
		ts, err = models.ParseTimestamp(w.Timestamp)
		if err != nil {
			return nil, malformed(NameMessage, "timestamp: %v", err)
		}
	}

	m := models.ChatMessage{
		ID:        msgID,
		TicketID:  h.TicketID,
		SenderID:  models.IDFrom(models.UserID(sender)),
		Body:      *body,
		Timestamp: ts,
		IsSystem:  w.IsSystem || sender == "",
	}
	if w.Timestamp != "" {
		h.Timestamp = m.Key().Timestamp + "|" + m.Key().SenderID
	}
	return Message{header: h, Message: m}, nil
}

func firstID(candidates ...json.RawMessage) (string, error) {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		id, present, err := convert.ParseID(raw)
		if err != nil {
			return "", err
		}
		if present {
			return id, nil
		}
	}
	return "", nil
}

func optionalID(raw json.RawMessage) (models.UserID, error) {
	id, err := firstID(raw)
	return models.UserID(id), err
}

func malformed(n Name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", apierrors.ErrMalformedEvent, n, fmt.Sprintf(format, args...))
}
