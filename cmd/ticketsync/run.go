package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goatkit/ticketsync/internal/api"
	"github.com/goatkit/ticketsync/internal/config"
	"github.com/goatkit/ticketsync/internal/services/scheduler"
)

func newRunCmd(ro *rootOptions) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the ticket table in sync and serve the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, ro, !noAPI)
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the status API")
	return cmd
}

func runSync(ctx context.Context, ro *rootOptions, serveAPI bool) error {
	cfg, logger := ro.cfg, ro.logger
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.NewService(a.engine,
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithJobs(buildSchedulerJobsFromConfig(cfg)))

	ro.loader.Watch(ro.level, logger, func(next *config.Config) {
		if next.Realtime.URL != cfg.Realtime.URL || next.API.BaseURL != cfg.API.BaseURL {
			logger.Warn("config: endpoint changes apply after restart")
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.engine.Supervise(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if serveAPI {
		h := api.NewHandlers(api.Deps{
			Tickets:        a.engine.Store(),
			Messages:       a.engine,
			Notifications:  a.engine.Notifications(),
			Jobs:           sched.Status,
			State:          a.sessionState,
			Logger:         logger.Named("api"),
			ActivityWindow: cfg.Chat.InactivityTimeout,
		})
		g.Go(func() error { return api.Serve(gctx, cfg.Status.Listen, h) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("ticketsync: stopped")
		return nil
	}
	return err
}
