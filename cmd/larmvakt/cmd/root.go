package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larmkedjan/larmvakt/internal/config"
	"github.com/larmkedjan/larmvakt/internal/logger"
	"github.com/larmkedjan/larmvakt/internal/service/monitor"
	"github.com/larmkedjan/larmvakt/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// historyFile path where alarm history is persisted.
	historyFile string
	// logLevel controls log verbosity.
	logLevel string
	// passive forces relay-only operation without a local message source.
	passive bool

	// rootCmd represents the base command for running the monitoring daemon.
	rootCmd = &cobra.Command{
		Use:   "larmvakt",
		Short: "Monitor dispatch messages and sound the station alarm.",
		Long: `Runs the station alarm monitor.

The monitor subscribes to the shared relay, opens the configured raw
message source, classifies every incoming dispatch message and activates
the alarm when one matches. Every accepted alarm is recorded in the
history file and published to the relay so other stations see it too.
Runs until interrupted; an active alarm survives a stop and still needs
to be acknowledged.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			options := &monitor.Options{
				ConfigPath:  configPath,
				HistoryFile: historyFile,
				Passive:     passive,
			}

			return monitor.Run(ctx, options)
		},
	}
)

// Execute runs the larmvakt CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyLogLevel sets the global level from the flag, ignoring junk values.
func applyLogLevel() {
	if lvl, ok := logger.ParseLogLevel(logLevel); ok {
		logger.SetLevel(lvl)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&historyFile, "history-file", "s", config.DefaultHistoryFilename, "path to persist alarm history")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVarP(&passive, "passive", "p", false, "receive alarms from the relay only")
}
