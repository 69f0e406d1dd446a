package chat

import (
	"github.com/goatkit/ticketsync/internal/models"
)

// Log is the ordered message log of one ticket. Order is arrival order;
// history fetched for the ticket always sits in front of live messages.
// A message is stored at most once per (ticket, timestamp, sender).
type Log struct {
	ticket   models.TicketID
	messages []models.ChatMessage
	keys     map[models.MessageKey]struct{}
	loaded   bool
}

func newLog(id models.TicketID) *Log {
	return &Log{ticket: id, keys: make(map[models.MessageKey]struct{})}
}

// Ticket returns the ticket the log belongs to.
func (l *Log) Ticket() models.TicketID { return l.ticket }

// Loaded reports whether history has been merged into the log.
func (l *Log) Loaded() bool { return l.loaded }

// Len returns the number of messages.
func (l *Log) Len() int { return len(l.messages) }

// Messages returns a copy of the log.
func (l *Log) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Append adds m at the tail. It reports false when a message with the
// same identity is already present.
func (l *Log) Append(m models.ChatMessage) bool {
	m.TicketID = l.ticket
	k := m.Key()
	if _, dup := l.keys[k]; dup {
		return false
	}
	l.keys[k] = struct{}{}
	l.messages = append(l.messages, m)
	return true
}

// Confirm replaces the oldest pending message sent by m's sender with
// the same body by m, keeping its position. It reports whether a pending
// message matched.
func (l *Log) Confirm(m models.ChatMessage) bool {
	if !m.SenderID.Valid {
		return false
	}
	for i, p := range l.messages {
		if !p.Pending || !p.SenderID.Same(m.SenderID) || p.Body != m.Body {
			continue
		}
		m.TicketID = l.ticket
		m.ClientID = p.ClientID
		m.Pending = false
		delete(l.keys, p.Key())
		l.keys[m.Key()] = struct{}{}
		l.messages[i] = m
		return true
	}
	return false
}

// Discard drops a pending message that was never delivered.
func (l *Log) Discard(clientID string) bool {
	for i, p := range l.messages {
		if p.Pending && p.ClientID == clientID {
			delete(l.keys, p.Key())
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true
		}
	}
	return false
}

// DiscardOldestPending drops the oldest pending message.
func (l *Log) DiscardOldestPending() (models.ChatMessage, bool) {
	for i, p := range l.messages {
		if p.Pending {
			delete(l.keys, p.Key())
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return p, true
		}
	}
	return models.ChatMessage{}, false
}

// PrependHistory merges fetched history in front of the live messages
// that arrived while the fetch was in flight. Live messages the history
// already contains are kept once, at their history position.
func (l *Log) PrependHistory(history []models.ChatMessage) {
	merged := make([]models.ChatMessage, 0, len(history)+len(l.messages))
	keys := make(map[models.MessageKey]struct{}, len(history)+len(l.messages))
	for _, m := range history {
		m.TicketID = l.ticket
		k := m.Key()
		if _, dup := keys[k]; dup {
			continue
		}
		keys[k] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range l.messages {
		k := m.Key()
		if _, dup := keys[k]; dup {
			continue
		}
		keys[k] = struct{}{}
		merged = append(merged, m)
	}
	l.messages = merged
	l.keys = keys
	l.loaded = true
}
