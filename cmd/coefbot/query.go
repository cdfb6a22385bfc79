package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"coefbot/internal/app"
	"coefbot/internal/supply"
)

func newFetchCmd(f *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the feed once, store the snapshot and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				// Refresh logs the cause; a zero FetchedAt means nothing was stored.
				snap := core.Cache.Refresh(ctx)
				if snap.FetchedAt.IsZero() {
					return errors.New("fetch failed; previous snapshot kept")
				}
				entries := snap.Entries
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				printEntries(cmd, entries, "No supply data available at the moment.")
				fmt.Fprintf(cmd.ErrOrStderr(), "%d entries fetched at %s\n", snap.Len(), snap.FetchedAt.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most this many entries (0 prints all)")
	return cmd
}

func newMatchesCmd(f *rootFlags) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Print stored entries matching the tracking criteria",
		Long:  "matches evaluates the stored snapshot. Without --from/--to the tracked dates are used; with both, the inclusive range replaces them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (from == "") != (to == "") {
				return errors.New("--from and --to must be given together")
			}
			var dates *supply.DateFilter
			if from != "" {
				start, err := parseDayArg("--from", from)
				if err != nil {
					return err
				}
				end, err := parseDayArg("--to", to)
				if err != nil {
					return err
				}
				r := supply.DateRange(start, end)
				dates = &r
			}
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				if _, ok, err := core.Cache.Threshold(ctx); err != nil {
					return err
				} else if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No threshold set; nothing can match.")
					return nil
				}
				var found []supply.Entry
				var err error
				if dates != nil {
					found, err = core.Poller.Matches(ctx, *dates)
				} else {
					found, err = core.Poller.CheckNow(ctx)
				}
				if err != nil {
					return err
				}
				printEntries(cmd, found, "No matches.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date of the range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last date of the range (YYYY-MM-DD)")
	return cmd
}

func newClearCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored snapshot and every tracked warehouse, box type and date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				if err := errors.Join(core.DB.ClearTracked(ctx), core.Cache.Clear(ctx)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared.")
				return nil
			})
		},
	}
}
