package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const minimal = `
api:
  base_url: https://desk.example.com/api
realtime:
  url: wss://desk.example.com/socket
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newLoader(t *testing.T, body string) *Loader {
	t.Helper()
	dir := t.TempDir()
	l := NewLoader(writeFile(t, dir, "ticketsync.yaml", body))
	l.SetEnvFile("")
	return l
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := newLoader(t, minimal).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://desk.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Realtime.ConnectTimeout)
	assert.Equal(t, 5, cfg.Realtime.DialAttempts)
	assert.Equal(t, 2*time.Second, cfg.Realtime.DialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Realtime.BackoffMax)
	assert.Equal(t, 120*time.Second, cfg.Chat.InactivityTimeout)
	assert.Equal(t, "@every 5m", cfg.Resync.Schedule)
	assert.Equal(t, "@every 1m", cfg.Resync.UnreadSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Snapshot.TTL)
	assert.Equal(t, "127.0.0.1:8089", cfg.Status.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Snapshot.RedisAddr)
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := newLoader(t, minimal+`
chat:
  inactivity_timeout: 90s
snapshot:
  redis_addr: localhost:6379
log:
  level: debug
`).Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Chat.InactivityTimeout)
	assert.Equal(t, "localhost:6379", cfg.Snapshot.RedisAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TICKETSYNC_AUTH_TOKEN", "secret")
	t.Setenv("TICKETSYNC_REALTIME_DIAL_ATTEMPTS", "9")

	cfg, err := newLoader(t, minimal).Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.Equal(t, 9, cfg.Realtime.DialAttempts)
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "TICKETSYNC_STATUS_LISTEN=127.0.0.1:9999\n")
	t.Setenv("TICKETSYNC_STATUS_LISTEN", "")
	require.NoError(t, os.Unsetenv("TICKETSYNC_STATUS_LISTEN"))

	l := NewLoader(writeFile(t, dir, "ticketsync.yaml", minimal))
	l.SetEnvFile(envFile)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Status.Listen)
}

func TestMissingDotEnvIgnored(t *testing.T) {
	l := newLoader(t, minimal)
	l.SetEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	_, err := l.Load()
	assert.NoError(t, err)
}

func TestExplicitFileMustExist(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	l.SetEnvFile("")
	_, err := l.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:      API{BaseURL: "https://desk/api", Timeout: time.Second},
			Realtime: Realtime{URL: "wss://desk/ws", ConnectTimeout: time.Second, DialAttempts: 1, BackoffMax: time.Second},
			Chat:     Chat{InactivityTimeout: time.Minute},
			Resync:   Resync{Schedule: "@every 5m", UnreadSchedule: "*/2 * * * *"},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"missing api url":   func(c *Config) { c.API.BaseURL = "" },
		"bad realtime url":  func(c *Config) { c.Realtime.URL = "ftp://desk" },
		"no host":           func(c *Config) { c.API.BaseURL = "https://" },
		"zero timeout":      func(c *Config) { c.Chat.InactivityTimeout = 0 },
		"no dial attempts":  func(c *Config) { c.Realtime.DialAttempts = 0 },
		"bad cron":          func(c *Config) { c.Resync.Schedule = "every now and then" },
		"unknown log level": func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestWatchAppliesLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ticketsync.yaml", minimal+"log:\n  level: info\n")
	l := NewLoader(path)
	l.SetEnvFile("")
	cfg, err := l.Load()
	require.NoError(t, err)

	_, level, err := NewLogger(cfg.Log)
	require.NoError(t, err)
	l.Watch(level, zap.NewNop(), nil)

	require.NoError(t, os.WriteFile(path, []byte(minimal+"log:\n  level: debug\n"), 0o600))
	assert.Eventually(t, func() bool {
		return level.Level() == zapcore.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)
}
