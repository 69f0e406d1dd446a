package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goatkit/ticketsync/internal/apierrors"
)

// CredentialStore holds the bearer credential between connects. Clear is
// called when the collaborator rejects it.
type CredentialStore interface {
	Credential() (string, error)
	Clear() error
}

// CredentialWriter is a CredentialStore that can keep a credential
// accepted by Connect for later reconnects.
type CredentialWriter interface {
	Set(token string) error
}

// MemoryCredentials keeps the credential in memory.
type MemoryCredentials struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryCredentials returns a store holding token.
func NewMemoryCredentials(token string) *MemoryCredentials {
	return &MemoryCredentials{token: strings.TrimSpace(token)}
}

func (m *MemoryCredentials) Credential() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", apierrors.ErrNoCredential
	}
	return m.token, nil
}

// Set replaces the credential, for example after a fresh sign-in.
func (m *MemoryCredentials) Set(token string) error {
	m.mu.Lock()
	m.token = strings.TrimSpace(token)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCredentials) Clear() error {
	return m.Set("")
}

// FileCredentials reads the credential from a file on every call so an
// external sign-in can rotate it. Clear removes the file.
type FileCredentials struct {
	Path string
}

func (f FileCredentials) Credential() (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", apierrors.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("session: read credential: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", apierrors.ErrNoCredential
	}
	return token, nil
}

// Set writes token to the file, readable by the owner only.
func (f FileCredentials) Set(token string) error {
	if err := os.WriteFile(f.Path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("session: write credential: %w", err)
	}
	return nil
}

func (f FileCredentials) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// checkExpiry rejects a JWT credential whose exp claim has passed without
// a round trip. Opaque credentials and tokens without exp pass through;
// the signature is never checked here, the collaborator does that.
func checkExpiry(credential string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return &apierrors.AuthError{Reason: fmt.Sprintf("credential expired at %s", exp.Time.UTC().Format(time.RFC3339))}
	}
	return nil
}
