package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goatkit/ticketsync/internal/chat"
	"github.com/goatkit/ticketsync/internal/history"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/router"
)

func newFollowCmd(ro *rootOptions) *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "follow <ticket-id>",
		Short: "Follow a ticket's chat in real time",
		Long: strings.TrimSpace(`
Open a ticket's chat stream and print messages as they arrive.

Lines typed on stdin are sent as messages unless --read-only is set.
The stream is closed when stdin ends or on interrupt.
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			id := models.TicketID(strings.TrimSpace(args[0]))
			return follow(ctx, ro, id, readOnly, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "watch without sending or marking read")
	return cmd
}

func follow(ctx context.Context, ro *rootOptions, id models.TicketID, readOnly bool, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, ro.cfg, ro.logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.engine.Supervise(gctx) })

	changed := make(chan struct{}, 1)
	sub := a.engine.Subscribe(router.Filter{Tickets: []models.TicketID{id}}, func(router.Update) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	if err := a.engine.OpenTicket(gctx, id, readOnly); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	p := &printer{out: out, seen: make(map[models.MessageKey]bool)}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-changed:
			}
			msgs, err := a.engine.Messages(gctx, id)
			if err != nil {
				return err
			}
			p.print(msgs, time.Now())
		}
	})

	if !readOnly {
		g.Go(func() error { return sendLines(gctx, a, id, in) })
	}

	err = g.Wait()
	if err == nil || errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errInputClosed = errors.New("follow: input closed")

func sendLines(ctx context.Context, a *app, id models.TicketID, in io.Reader) error {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		body := strings.TrimSpace(lines.Text())
		if body == "" {
			continue
		}
		a.engine.Activity()
		if err := a.engine.SendMessage(ctx, id, body); err != nil {
			a.logger.Warn("follow: message not sent", zap.Error(err))
		}
	}
	if err := lines.Err(); err != nil {
		return err
	}
	if err := a.engine.CloseTicket(ctx); err != nil {
		a.logger.Debug("follow: close stream", zap.Error(err))
	}
	return errInputClosed
}

// printer writes each confirmed message once, under a day heading.
type printer struct {
	out     io.Writer
	seen    map[models.MessageKey]bool
	lastDay string
}

func (p *printer) print(msgs []models.ChatMessage, now time.Time) {
	for _, group := range chat.GroupByDay(msgs, time.Local) {
		for _, m := range group.Messages {
			if m.Pending || p.seen[m.Key()] {
				continue
			}
			p.seen[m.Key()] = true
			if label := history.DayLabel(group.Day, now, time.Local); label != p.lastDay {
				p.lastDay = label
				fmt.Fprintf(p.out, "-- %s --\n", label)
			}
			fmt.Fprintln(p.out, formatMessage(m))
		}
	}
}

func formatMessage(m models.ChatMessage) string {
	stamp := m.Timestamp.Local().Format("15:04")
	if m.IsSystem {
		return fmt.Sprintf("[%s] * %s", stamp, m.Body)
	}
	sender := "unknown"
	if m.SenderID.Valid {
		sender = m.SenderID.String.String
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, sender, m.Body)
}
