// Package session is the connection manager: one realtime session per
// authenticated identity, connected on demand and shared by everything
// above it.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/transport"
)

// State is the connectivity state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Client to server event names.
const (
	EventJoin              = "join"
	EventLeave             = "leave"
	EventMessage           = "message"
	EventInactivityTimeout = "inactivity_timeout"
)

type roomPayload struct {
	TicketID models.TicketID `json:"ticket_id"`
}

// Session is one live realtime connection. At most one ticket room is
// active at a time; joining another leaves the previous one first.
type Session struct {
	conn       transport.Conn
	identity   models.Identity
	credential string
	logger     *zap.Logger

	mu     sync.Mutex
	state  State
	active models.TicketID
	err    error

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn transport.Conn, identity models.Identity, credential string, logger *zap.Logger) *Session {
	return &Session{
		conn:       conn,
		identity:   identity,
		credential: credential,
		logger:     logger,
		state:      StateConnected,
		done:       make(chan struct{}),
	}
}

// State returns the current connectivity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity the credential was validated as.
func (s *Session) Identity() models.Identity { return s.identity }

// Credential returns the credential the session was opened with.
func (s *Session) Credential() string { return s.credential }

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, nil after a deliberate disconnect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Rooms returns the joined ticket rooms.
func (s *Session) Rooms() []models.TicketID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return nil
	}
	return []models.TicketID{s.active}
}

// ActiveRoom returns the joined room, if any.
func (s *Session) ActiveRoom() (models.TicketID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// Join subscribes to id's room, leaving any other active room first.
// Joining the active room again sends nothing.
func (s *Session) Join(ctx context.Context, id models.TicketID) error {
	s.mu.Lock()
	prev := s.active
	s.mu.Unlock()

	if prev == id {
		return nil
	}
	if prev != "" {
		if err := s.Leave(ctx, prev); err != nil {
			return err
		}
	}
	if err := s.conn.Send(ctx, EventJoin, roomPayload{TicketID: id}); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	s.logger.Debug("session: joined room", zap.String("ticket_id", string(id)))
	return nil
}

// Leave unsubscribes from id's room. Leaving a room that is not joined
// sends nothing.
func (s *Session) Leave(ctx context.Context, id models.TicketID) error {
	s.mu.Lock()
	if s.active != id || id == "" {
		s.mu.Unlock()
		return nil
	}
	s.active = ""
	s.mu.Unlock()

	if err := s.conn.Send(ctx, EventLeave, roomPayload{TicketID: id}); err != nil {
		return err
	}
	s.logger.Debug("session: left room", zap.String("ticket_id", string(id)))
	return nil
}

// Emit sends an event to the server.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	return s.conn.Send(ctx, event, payload)
}

// close releases the rooms and tears the transport down. cause is nil
// for a deliberate disconnect.
func (s *Session) close(cause error) {
	s.closeOnce.Do(func() {
		if cause == nil {
			if room, ok := s.ActiveRoom(); ok {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = s.Leave(ctx, room)
				cancel()
			}
		}
		s.mu.Lock()
		s.active = ""
		s.err = cause
		if cause != nil {
			s.state = StateError
		} else {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		_ = s.conn.Close()
		close(s.done)
	})
}
