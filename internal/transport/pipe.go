package transport

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory ends. Whatever one end sends the
// other receives, in order. Closing either end closes both.
func Pipe() (Conn, Conn) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan Envelope, 256)
	ba := make(chan Envelope, 256)
	return &pipeEnd{p: p, in: ba, out: ab}, &pipeEnd{p: p, in: ab, out: ba}
}

type pipe struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	p   *pipe
	in  chan Envelope
	out chan Envelope
}

func (e *pipeEnd) Send(ctx context.Context, event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-e.p.done:
		return ErrClosed
	default:
	}
	select {
	case e.out <- env:
		return nil
	case <-e.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-e.in:
		return env, nil
	default:
	}
	select {
	case env := <-e.in:
		return env, nil
	case <-e.p.done:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.p.once.Do(func() { close(e.p.done) })
	return nil
}

// PipeDialer hands out the client end of a fresh Pipe on every Dial and
// publishes the server end on Accepted.
type PipeDialer struct {
	Accepted chan Conn
	// Err, when set, fails every Dial.
	Err error

	mu    sync.Mutex
	dials int
	creds []string
}

// NewPipeDialer returns a PipeDialer with a buffered Accepted channel.
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{Accepted: make(chan Conn, 16)}
}

func (d *PipeDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.creds = append(d.creds, credential)
	err := d.Err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	client, server := Pipe()
	select {
	case d.Accepted <- server:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client, nil
}

// Dials returns how many times Dial was called.
func (d *PipeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
