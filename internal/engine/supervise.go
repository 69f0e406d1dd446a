package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/constants"
)

// Supervise keeps a realtime session up. After every successful connect
// it rejoins the open stream's room and refreshes the ticket table. A
// failed connect is retried after min(1s*2^n, cap); an AuthError ends
// supervision and is returned, as does a deliberate disconnect.
func (e *Engine) Supervise(ctx context.Context) error {
	c := e.connector()
	if c == nil {
		return errors.New("engine: no connector configured")
	}
	attempt := 0
	for {
		sess, err := c.GetSession(ctx)
		if err != nil {
			if apierrors.IsAuth(err) {
				e.opts.logger.Error("engine: authentication required", zap.Error(err))
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := min(constants.ReconnectDelay(attempt), e.opts.backoffMax)
			attempt++
			e.opts.logger.Warn("engine: realtime connect failed",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.opts.clock.After(delay):
			}
			continue
		}

		attempt = 0
		var jerr error
		if derr := e.Do(ctx, func() { jerr = e.chat.Rejoin(ctx, sess) }); derr != nil {
			return derr
		}
		if jerr != nil {
			e.opts.logger.Warn("engine: rejoin failed", zap.Error(jerr))
		}
		if rerr := e.Refresh(ctx); rerr != nil {
			e.opts.logger.Warn("engine: refresh after connect failed", zap.Error(rerr))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			if sess.Err() == nil {
				e.opts.logger.Info("engine: realtime session closed")
				return nil
			}
			e.opts.logger.Warn("engine: realtime session lost", zap.Error(sess.Err()))
		}
	}
}
