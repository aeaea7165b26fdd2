package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

type historyFlags struct {
	flow   string
	status string
	since  time.Duration
	limit  int
	prune  time.Duration
}

func newHistoryCmd(a *app) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs, or show one run's events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			j, err := a.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.prune > 0 {
				n, err := j.Prune(cmd.Context(), time.Now().UTC().Add(-flags.prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d runs\n", n)
				return nil
			}
			if len(args) == 1 {
				return showRun(cmd, j, args[0])
			}

			filter := store.RunFilter{
				Flow:   flags.flow,
				Status: schema.RunState(flags.status),
				Limit:  flags.limit,
			}
			if flags.since > 0 {
				filter.Since = time.Now().UTC().Add(-flags.since)
			}
			runs, err := j.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printRuns(out, runs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.flow, "flow", "", "Only runs of this flow")
	f.StringVar(&flags.status, "status", "", "Only runs in this state: running, succeeded or failed")
	f.DurationVar(&flags.since, "since", 0, "Only runs started within this duration, e.g. 24h")
	f.IntVar(&flags.limit, "limit", store.DefaultRunLimit, "Maximum number of runs")
	f.DurationVar(&flags.prune, "prune", 0, "Delete runs older than this duration instead of listing")
	return cmd
}

func printRuns(w io.Writer, runs []*store.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tFLOW\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = (time.Duration(r.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Flow, r.Status, r.StartedAt.Format(time.RFC3339), dur, r.ErrorCode)
	}
	tw.Flush()
}

func showRun(cmd *cobra.Command, j store.Journal, id string) error {
	run, err := j.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	events, err := j.ListEvents(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:     %s\n", run.ID)
	fmt.Fprintf(out, "Flow:    %s\n", run.Flow)
	fmt.Fprintf(out, "Status:  %s\n", run.Status)
	if run.ErrorCode != "" {
		fmt.Fprintf(out, "Error:   [%s] %s\n", run.ErrorCode, run.ErrorMessage)
	}
	fmt.Fprintf(out, "Events:  (%d)\n", len(events))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range events {
		detail := string(e.Action)
		if e.Error != nil {
			detail = e.Error.Code
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Format(time.RFC3339Nano), e.Type, e.NodeID, detail)
	}
	return tw.Flush()
}
