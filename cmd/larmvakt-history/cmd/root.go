package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larmkedjan/larmvakt/internal/config"
	"github.com/larmkedjan/larmvakt/internal/service/history"
	"github.com/larmkedjan/larmvakt/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// historyFile path where alarm history is persisted.
	historyFile string
	// limit caps how many events are fetched from the relay.
	limit int
	// testEvents switches the listing to drill events.
	testEvents bool
	// devices lists online devices instead of alarms.
	devices bool

	// rootCmd represents the base command for listing recorded alarms.
	rootCmd = &cobra.Command{
		Use:   "larmvakt-history",
		Short: "List recorded alarms grouped by day.",
		Long: `Prints the alarm history, newest first, one block per day.

Recent events are fetched from the shared relay and merged into the
local history file first, so the listing stays useful when the relay
is unreachable. Drill events are kept in a separate bucket; use
--test-events to list them instead, or --devices to see which devices
are currently online.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &history.Options{
				ConfigPath:  configPath,
				HistoryFile: historyFile,
				Limit:       limit,
				TestEvents:  testEvents,
				Devices:     devices,
			}

			return history.Run(ctx, options)
		},
	}
)

// Execute runs the larmvakt-history CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&historyFile, "history-file", "s", config.DefaultHistoryFilename, "path to the alarm history file")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultFetchLimit, "maximum events to fetch from the relay")
	rootCmd.Flags().BoolVarP(&testEvents, "test-events", "t", false, "list drill events instead of real alarms")
	rootCmd.Flags().BoolVarP(&devices, "devices", "d", false, "list devices currently online on the relay")
}
