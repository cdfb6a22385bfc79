package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"coefbot/internal/app"
)

func newThresholdCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Show or set the coefficient threshold",
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				v, ok, err := core.Cache.Threshold(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No threshold set")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	set := &cobra.Command{
		Use:   "set <n>",
		Short: "Notify about entries with a coefficient below n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid threshold %q", args[0])
			}
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				if err := core.Cache.SetThreshold(ctx, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Threshold set to %d\n", v)
				return nil
			})
		},
	}
	cmd.AddCommand(get, set)
	return cmd
}
