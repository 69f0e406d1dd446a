package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/transport"
)

type stubValidator struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	block bool
}

func (v *stubValidator) Validate(ctx context.Context, credential string) (models.Identity, error) {
	v.calls.Add(1)
	if v.gate != nil {
		<-v.gate
	}
	if v.block {
		<-ctx.Done()
		return models.Identity{}, ctx.Err()
	}
	if v.err != nil {
		return models.Identity{}, v.err
	}
	return models.Identity{ID: "A", Role: models.RoleMember}, nil
}

func receive(t *testing.T, conn transport.Conn) transport.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	return env
}

func TestGetSessionCoalescesConcurrentCallers(t *testing.T) {
	dialer := transport.NewPipeDialer()
	validator := &stubValidator{gate: make(chan struct{})}
	m := NewManager(dialer, validator, NewMemoryCredentials("tok"))
	defer m.Disconnect()

	const callers = 8
	var wg sync.WaitGroup
	sessions := make([]*Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = m.GetSession(context.Background())
		}(i)
	}
	// Let every caller pile onto the in-flight attempt before it resolves.
	require.Eventually(t, func() bool { return validator.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(validator.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, StateConnected, sessions[0].State())
	assert.Equal(t, models.UserID("A"), sessions[0].Identity().ID)
}

func TestConnectAuthFailureClearsCredential(t *testing.T) {
	creds := NewMemoryCredentials("tok")
	var signalled error
	m := NewManager(transport.NewPipeDialer(),
		&stubValidator{err: &apierrors.AuthError{Reason: "Invalid token"}},
		creds,
		WithAuthRequired(func(err error) { signalled = err }))

	_, err := m.GetSession(context.Background())
	assert.True(t, apierrors.IsAuth(err))
	assert.True(t, apierrors.IsAuth(signalled))

	_, err = creds.Credential()
	assert.ErrorIs(t, err, apierrors.ErrNoCredential)

	_, err = m.GetSession(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrNoCredential)
}

func TestExpiredJWTRejectedLocally(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	validator := &stubValidator{}
	m := NewManager(transport.NewPipeDialer(), validator, NewMemoryCredentials(token))

	_, err = m.GetSession(context.Background())
	assert.True(t, apierrors.IsAuth(err))
	assert.Equal(t, int32(0), validator.calls.Load())
}

func TestConnectTimeoutIsTransportError(t *testing.T) {
	var states []State
	var mu sync.Mutex
	m := NewManager(transport.NewPipeDialer(), &stubValidator{block: true}, NewMemoryCredentials("tok"),
		WithConnectTimeout(30*time.Millisecond),
		WithStateListener(func(s State, _ error) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))

	_, err := m.Connect(context.Background(), "tok")
	var te *apierrors.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "no connection within")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateError}, states)
}

func TestJoinKeepsOneActiveRoom(t *testing.T) {
	dialer := transport.NewPipeDialer()
	m := NewManager(dialer, &stubValidator{}, NewMemoryCredentials("tok"))
	ctx := context.Background()

	s, err := m.GetSession(ctx)
	require.NoError(t, err)
	server := <-dialer.Accepted

	require.NoError(t, s.Join(ctx, "1"))
	require.NoError(t, s.Join(ctx, "1"))
	require.NoError(t, s.Join(ctx, "2"))
	assert.Equal(t, []models.TicketID{"2"}, s.Rooms())

	expect := []struct{ event, data string }{
		{EventJoin, `{"ticket_id":"1"}`},
		{EventLeave, `{"ticket_id":"1"}`},
		{EventJoin, `{"ticket_id":"2"}`},
	}
	for _, want := range expect {
		env := receive(t, server)
		assert.Equal(t, want.event, env.Event)
		assert.JSONEq(t, want.data, string(env.Data))
	}

	m.Disconnect()
	env := receive(t, server)
	assert.Equal(t, EventLeave, env.Event)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, s.Rooms())

	m.Disconnect()
	assert.Nil(t, m.Current())
}

func TestTransportLossDropsSessionUntilNextGet(t *testing.T) {
	dialer := transport.NewPipeDialer()
	received := make(chan transport.Envelope, 4)
	lost := make(chan error, 1)
	m := NewManager(dialer, &stubValidator{}, NewMemoryCredentials("tok"),
		WithHandler(func(env transport.Envelope) { received <- env }),
		WithStateListener(func(s State, err error) {
			if s == StateError {
				lost <- err
			}
		}))
	ctx := context.Background()

	first, err := m.GetSession(ctx)
	require.NoError(t, err)
	server := <-dialer.Accepted

	require.NoError(t, server.Send(ctx, "new_ticket", map[string]any{"ticket_id": 5}))
	assert.Equal(t, "new_ticket", (<-received).Event)

	require.NoError(t, server.Close())
	select {
	case err := <-lost:
		var te *apierrors.TransportError
		assert.True(t, errors.As(err, &te))
	case <-time.After(2 * time.Second):
		t.Fatal("transport loss not reported")
	}
	<-first.Done()
	assert.Equal(t, StateError, first.State())
	assert.Nil(t, m.Current())

	second, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dialer.Dials())
	m.Disconnect()
}

func TestConnectWithNewCredentialReplacesSession(t *testing.T) {
	dialer := transport.NewPipeDialer()
	validator := &stubValidator{}
	creds := NewMemoryCredentials("old")
	m := NewManager(dialer, validator, creds)
	defer m.Disconnect()
	ctx := context.Background()

	first, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", first.Credential())

	second, err := m.Connect(ctx, "new")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "new", second.Credential())
	assert.Equal(t, int32(2), validator.calls.Load())
	assert.Equal(t, 2, dialer.Dials())
	assert.Equal(t, StateDisconnected, first.State())
	assert.Same(t, second, m.Current())

	stored, err := creds.Credential()
	require.NoError(t, err)
	assert.Equal(t, "new", stored)

	// Same credential again is the current session.
	again, err := m.Connect(ctx, "new")
	require.NoError(t, err)
	assert.Same(t, second, again)
	assert.Equal(t, 2, dialer.Dials())

	got, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestConnectWithRejectedCredentialKeepsCurrentSession(t *testing.T) {
	validator := &stubValidator{}
	m := NewManager(transport.NewPipeDialer(), validator, NewMemoryCredentials("old"))
	defer m.Disconnect()
	ctx := context.Background()

	first, err := m.GetSession(ctx)
	require.NoError(t, err)

	validator.err = &apierrors.AuthError{Reason: "Invalid token"}
	_, err = m.Connect(ctx, "forged")
	assert.True(t, apierrors.IsAuth(err))
	assert.Same(t, first, m.Current())
	stored, err := m.creds.Credential()
	require.NoError(t, err)
	assert.Equal(t, "old", stored)

	_, err = m.Connect(ctx, "  ")
	assert.ErrorIs(t, err, apierrors.ErrNoCredential)
}

func TestFileCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	creds := FileCredentials{Path: path}

	_, err := creds.Credential()
	assert.ErrorIs(t, err, apierrors.ErrNoCredential)

	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0o600))
	tok, err := creds.Credential()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	require.NoError(t, creds.Set(" rotated "))
	tok, err = creds.Credential()
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok)

	require.NoError(t, creds.Clear())
	require.NoError(t, creds.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
