package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "coefbot",
		Short:         "coefbot watches warehouse acceptance coefficients",
		Long:          "coefbot polls the marketplace acceptance coefficient feed, matches it against tracked warehouses, box types and dates, and notifies Telegram chats when a slot drops below the threshold.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "./config.yaml", "Path to the YAML or JSON config file")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", "", "Optional dotenv file with secrets (COEFBOT_TELEGRAM_TOKEN, COEFBOT_UPSTREAM_TOKEN)")

	root.AddCommand(
		newRunCmd(f),
		newFetchCmd(f),
		newMatchesCmd(f),
		newTrackCmd(f),
		newThresholdCmd(f),
		newClearCmd(f),
	)
	return root
}
