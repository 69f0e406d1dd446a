// Package transport carries realtime events over a websocket. Every frame
// is a JSON envelope {"event": name, "data": payload}.
package transport

import (
	"context"
	"errors"

	json "github.com/json-iterator/go"
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("transport: connection closed")

// Envelope is one realtime frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is a bidirectional event connection. Send is safe for concurrent
// use; Receive must be called from a single goroutine.
type Conn interface {
	Send(ctx context.Context, event string, payload any) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// Dialer opens connections authenticated with credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// NewEnvelope encodes payload into an envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}
