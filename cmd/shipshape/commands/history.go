package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		historyDB string
		last      int
		keep      int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List or inspect recorded runs",
		Long: `List the runs recorded in the history database, newest first. With a
run id, print that run's full report: per-host results and every
operation record with its commands and output.

--prune keeps only the newest N runs and deletes the rest.`,
		Example: `  # The last 20 runs
  shipshape history

  # Everything about one run
  shipshape history 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed

  # Keep the newest 100 runs
  shipshape history --prune 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			store, err := openStore(ctx, tel, historyDB)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("no history database configured")
			}
			defer store.Close()

			if cmd.Flags().Changed("prune") {
				pruned, err := store.Prune(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs, kept the newest %d\n", pruned, keep)
				return nil
			}

			if len(args) == 1 {
				return printRunDetail(cmd, store, args[0])
			}
			return printRunList(cmd, store, last)
		},
	}

	cmd.Flags().StringVar(&historyDB, "history-db", "shipshape.db", "run history database path")
	cmd.Flags().IntVar(&last, "last", 20, "number of runs to list")
	cmd.Flags().IntVar(&keep, "prune", 0, "delete all but the newest N runs")

	return cmd
}

func printRunList(cmd *cobra.Command, store *stores.SQLiteStore, last int) error {
	runs, err := store.ListRuns(cmd.Context(), last, 0)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-19s  %-10s  %5s  %7s  %6s  %s\n",
		"RUN", "STARTED", "PHASE", "HOSTS", "CHANGED", "FAILED", "NAME")
	for _, run := range runs {
		s := run.Summary
		fmt.Fprintf(out, "%-36s  %-19s  %-10s  %5d  %7d  %6d  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Phase,
			s.Hosts, s.Changed, s.Failed+s.Unreachable,
			run.Name)
	}
	return nil
}

func printRunDetail(cmd *cobra.Command, store *stores.SQLiteStore, runID string) error {
	report, err := store.GetReport(cmd.Context(), runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return engine.WriteJSON(out, report)
	}

	if err := engine.WriteText(out, report); err != nil {
		return err
	}
	if len(report.Records) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nrecords:")
	for _, rec := range report.Records {
		fmt.Fprintf(out, "%4d. %-24s %-18s %-9s %s",
			rec.Order, rec.Host, rec.Name, rec.Status,
			rec.Duration.Round(time.Millisecond))
		if rec.Error != "" {
			fmt.Fprintf(out, "  (%s)", rec.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}
