package main

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/config"
	"github.com/goatkit/ticketsync/internal/engine"
	"github.com/goatkit/ticketsync/internal/restclient"
	"github.com/goatkit/ticketsync/internal/session"
	"github.com/goatkit/ticketsync/internal/snapshot"
	"github.com/goatkit/ticketsync/internal/transport"
)

// app is the wired sync engine shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *restclient.Client
	manager *session.Manager
	engine  *engine.Engine
	redis   *redis.Client

	state atomic.Value // session.State
}

func credentials(cfg config.Auth) session.CredentialStore {
	if cfg.Token == "" && cfg.TokenFile != "" {
		return session.FileCredentials{Path: cfg.TokenFile}
	}
	return session.NewMemoryCredentials(cfg.Token)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.state.Store(session.StateDisconnected)

	creds := credentials(cfg.Auth)
	a.client = restclient.New(cfg.API.BaseURL, creds,
		restclient.WithLogger(logger.Named("rest")),
		restclient.WithTimeout(cfg.API.Timeout))

	engOpts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithInactivityTimeout(cfg.Chat.InactivityTimeout),
		engine.WithBackoffMax(cfg.Realtime.BackoffMax),
	}
	if cfg.Snapshot.RedisAddr != "" {
		snaps, rdb, err := snapshot.Dial(ctx, cfg.Snapshot.RedisAddr,
			snapshot.WithTTL(cfg.Snapshot.TTL),
			snapshot.WithLogger(logger.Named("snapshot")))
		if err != nil {
			logger.Warn("snapshot: redis unavailable, running without snapshots", zap.Error(err))
		} else {
			a.redis = rdb
			engOpts = append(engOpts, engine.WithSnapshots(snaps))
		}
	}
	a.engine = engine.New(a.client, engOpts...)

	dialer := transport.NewWebSocketDialer(cfg.Realtime.URL,
		transport.WithLogger(logger.Named("transport")),
		transport.WithRetry(cfg.Realtime.DialAttempts, cfg.Realtime.DialRetryDelay))
	a.manager = session.NewManager(dialer, a.client, creds,
		session.WithLogger(logger.Named("session")),
		session.WithConnectTimeout(cfg.Realtime.ConnectTimeout),
		session.WithHandler(a.engine.Handle),
		session.WithStateListener(func(s session.State, err error) {
			a.state.Store(s)
			if err != nil {
				logger.Debug("session: state changed", zap.String("state", string(s)), zap.Error(err))
			}
		}),
		session.WithAuthRequired(func(err error) {
			logger.Error("session: sign in again, the stored credential was rejected", zap.Error(err))
		}))
	a.engine.SetConnector(a.manager)
	return a, nil
}

func (a *app) sessionState() session.State {
	s, _ := a.state.Load().(session.State)
	return s
}

func (a *app) close() {
	a.manager.Disconnect()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
