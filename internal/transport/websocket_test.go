package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketsync/internal/apierrors"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotToken := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := Wrap(ws)
		defer conn.Close()
		env, err := conn.Receive(context.Background())
		if err != nil {
			return
		}
		// Echo the join back as a server event.
		_ = conn.Send(context.Background(), "ack_"+env.Event, env.Data)
		_, _ = conn.Receive(context.Background())
	}))
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, "tok-1")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "tok-1", <-gotToken)

	require.NoError(t, conn.Send(ctx, "join", map[string]string{"ticket_id": "42"}))
	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ack_join", env.Event)
	assert.JSONEq(t, `{"ticket_id":"42"}`, string(env.Data))

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(ctx, "leave", nil), ErrClosed)
}

func TestWebSocketDialRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv), WithRetry(3, time.Millisecond))
	_, err := d.Dial(context.Background(), "tok")

	var te *apierrors.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebSocketDialUnauthorizedStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv), WithRetry(5, time.Millisecond))
	_, err := d.Dial(context.Background(), "bad")

	assert.True(t, apierrors.IsAuth(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	for _, ev := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(ctx, ev, nil))
	}
	for _, want := range []string{"one", "two", "three"} {
		env, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, env.Event)
	}
	require.NoError(t, b.Close())
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
