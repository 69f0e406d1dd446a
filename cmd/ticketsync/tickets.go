package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/views"
)

type ticketsOptions struct {
	status string
	search string
	sort   string
	desc   bool
	asJSON bool
}

func newTicketsCmd(ro *rootOptions) *cobra.Command {
	to := &ticketsOptions{}
	cmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ls"},
		Short:   "Fetch the ticket list once and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listTickets(cmd.Context(), ro, to, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&to.status, "status", "", "only tickets in this status (open, assigned, closed, reassigned, inactive)")
	f.StringVarP(&to.search, "search", "q", "", "case-insensitive text search")
	f.StringVar(&to.sort, "sort", "", "order by created, last_message or priority")
	f.BoolVar(&to.desc, "desc", false, "reverse the order")
	f.BoolVar(&to.asJSON, "json", false, "print JSON rows")
	return cmd
}

func listTickets(ctx context.Context, ro *rootOptions, to *ticketsOptions, out io.Writer) error {
	q := views.Query{Search: to.search, Sort: views.SortKey(to.sort), Desc: to.desc}
	if to.status != "" {
		st, err := models.ParseStatus(to.status)
		if err != nil {
			return err
		}
		q.Status = st
	}

	a, err := newApp(ctx, ro.cfg, ro.logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.engine.Run(ctx) }()

	if err := a.engine.Refresh(ctx); err != nil {
		// A snapshot may still have seeded the table.
		if a.engine.Store().Len() == 0 {
			return err
		}
		ro.logger.Warn("tickets: showing snapshot, fetch failed")
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	rows := views.Rows(views.Apply(a.engine.Store().All(), q), time.Now(), ro.cfg.Chat.InactivityTimeout)
	if to.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return writeTable(out, rows)
}

func writeTable(out io.Writer, rows []views.Row) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tASSIGNEE\tUNREAD\tACTIVITY\tLAST MESSAGE\tSUBJECT")
	for _, r := range rows {
		assignee := string(r.Assignee())
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Status, assignee, r.UnreadCount, r.Activity, r.LastSeen, r.Subject)
	}
	return tw.Flush()
}
