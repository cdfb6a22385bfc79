package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"coefbot/internal/app"
	"coefbot/internal/config"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

// withCore opens the engine for one-shot commands. Nothing is started:
// no poll loops, no Telegram, no notifier.
func withCore(cmd *cobra.Command, f *rootFlags, run func(ctx context.Context, core *app.Core) error) error {
	cfgm := config.NewConfigManager(f.config)
	cfgm.SetEnvFile(f.envFile)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	log := logx.NewWriter(cmd.ErrOrStderr(), "WARN")
	core, err := app.OpenCore(cfg, nil, log, nil)
	if err != nil {
		return err
	}
	defer core.Close()
	return run(cmd.Context(), core)
}

func printEntries(cmd *cobra.Command, entries []supply.Entry, empty string) {
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), empty)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), supply.Lines(entries))
}

func parseIDArg(value string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid warehouse id %q", value)
	}
	return v, nil
}

func parseDayArg(name, value string) (time.Time, error) {
	d, err := supply.ParseDay(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (expected YYYY-MM-DD)", name, value)
	}
	return d, nil
}
