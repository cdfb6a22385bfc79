package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"coefbot/internal/app"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
)

func newTrackCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Manage tracked warehouses, box types and dates",
	}
	cmd.AddCommand(
		newWarehouseCmd(f),
		newBoxTypeCmd(f),
		newDateCmd(f),
	)
	return cmd
}

// registryOps holds the per-registry parts of add/drop/list/clear.
type registryOps struct {
	noun  string
	add   func(ctx context.Context, core *app.Core, args []string) (string, error)
	drop  func(ctx context.Context, core *app.Core, arg string) (string, error)
	list  func(ctx context.Context, core *app.Core) ([]string, error)
	clear func(ctx context.Context, core *app.Core) error
}

func registryCmd(f *rootFlags, use, short, addArgs string, ops registryOps) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}

	add := &cobra.Command{
		Use:   "add " + addArgs,
		Short: "Start tracking a " + ops.noun,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				name, err := ops.add(ctx, core, args)
				if errors.Is(err, storage.ErrDuplicate) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s is already tracked\n", ops.noun, name)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s %s\n", ops.noun, name)
				return nil
			})
		},
	}
	drop := &cobra.Command{
		Use:   "drop <key>",
		Short: "Stop tracking a " + ops.noun,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				name, err := ops.drop(ctx, core, strings.Join(args, " "))
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%s %s is not tracked", ops.noun, name)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s %s\n", ops.noun, name)
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked " + ops.noun + "s",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				items, err := ops.list(ctx, core)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %ss tracked\n", ops.noun)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(items, "\n"))
				return nil
			})
		},
	}
	clr := &cobra.Command{
		Use:   "clear",
		Short: "Stop tracking every " + ops.noun,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, f, func(ctx context.Context, core *app.Core) error {
				if err := ops.clear(ctx, core); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %ss\n", ops.noun)
				return nil
			})
		},
	}
	cmd.AddCommand(add, drop, list, clr)
	return cmd
}

func newWarehouseCmd(f *rootFlags) *cobra.Command {
	return registryCmd(f, "warehouse", "Tracked warehouses", "<id> [name]", registryOps{
		noun: "warehouse",
		add: func(ctx context.Context, core *app.Core, args []string) (string, error) {
			id, err := parseIDArg(args[0])
			if err != nil {
				return "", err
			}
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			// Fall back to the name in the stored snapshot, then the id.
			if name == "" {
				if snap, ok, err := core.Cache.Peek(ctx); err == nil && ok {
					name, _ = snap.WarehouseName(id)
				}
			}
			if name == "" {
				name = args[0]
			}
			return name, core.DB.Warehouses().Add(ctx, supply.Warehouse{ID: id, Name: name})
		},
		drop: func(ctx context.Context, core *app.Core, arg string) (string, error) {
			id, err := parseIDArg(arg)
			if err != nil {
				return arg, err
			}
			return arg, core.DB.Warehouses().Drop(ctx, id)
		},
		list: func(ctx context.Context, core *app.Core) ([]string, error) {
			all, err := core.DB.Warehouses().All(ctx)
			out := make([]string, 0, len(all))
			for _, w := range all {
				out = append(out, strconv.FormatInt(w.ID, 10)+"\t"+w.Name)
			}
			return out, err
		},
		clear: func(ctx context.Context, core *app.Core) error { return core.DB.Warehouses().Clear(ctx) },
	})
}

func newBoxTypeCmd(f *rootFlags) *cobra.Command {
	return registryCmd(f, "boxtype", "Tracked box types", "<name>", registryOps{
		noun: "box type",
		add: func(ctx context.Context, core *app.Core, args []string) (string, error) {
			name := strings.TrimSpace(strings.Join(args, " "))
			if name == "" {
				return "", errors.New("box type name is empty")
			}
			return name, core.DB.BoxTypes().Add(ctx, name)
		},
		drop: func(ctx context.Context, core *app.Core, arg string) (string, error) {
			name := strings.TrimSpace(arg)
			return name, core.DB.BoxTypes().Drop(ctx, name)
		},
		list: func(ctx context.Context, core *app.Core) ([]string, error) {
			return core.DB.BoxTypes().All(ctx)
		},
		clear: func(ctx context.Context, core *app.Core) error { return core.DB.BoxTypes().Clear(ctx) },
	})
}

func newDateCmd(f *rootFlags) *cobra.Command {
	return registryCmd(f, "date", "Tracked dates", "<YYYY-MM-DD>", registryOps{
		noun: "date",
		add: func(ctx context.Context, core *app.Core, args []string) (string, error) {
			day, err := parseDayArg("date", args[0])
			if err != nil {
				return args[0], err
			}
			return supply.FormatDay(day), core.DB.Dates().Add(ctx, day)
		},
		drop: func(ctx context.Context, core *app.Core, arg string) (string, error) {
			day, err := parseDayArg("date", arg)
			if err != nil {
				return arg, err
			}
			return supply.FormatDay(day), core.DB.Dates().Drop(ctx, day)
		},
		list: func(ctx context.Context, core *app.Core) ([]string, error) {
			all, err := core.DB.Dates().All(ctx)
			out := make([]string, 0, len(all))
			for _, d := range all {
				out = append(out, supply.FormatDay(d))
			}
			return out, err
		},
		clear: func(ctx context.Context, core *app.Core) error { return core.DB.Dates().Clear(ctx) },
	})
}
