package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larmkedjan/larmvakt/internal/config"
	"github.com/larmkedjan/larmvakt/internal/service/send"
	"github.com/larmkedjan/larmvakt/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// station the drill targets.
	station string
	// category text for the published event.
	category string
	// total marks the drill as a full mobilization.
	total bool
	// production publishes a real event instead of a drill.
	production bool

	// rootCmd represents the base command for publishing drill events.
	rootCmd = &cobra.Command{
		Use:   "larmvakt-send",
		Short: "Publish a drill event to the relay.",
		Long: `Publishes a single alarm event to the shared relay.

By default the event is marked as a drill, so only monitors running in
test mode react to it. Use --production to publish a real alarm event;
every monitoring device will sound. Fails when the relay is unreachable
rather than dropping the event silently.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &send.Options{
				ConfigPath: configPath,
				Station:    station,
				Category:   category,
				Total:      total,
				Production: production,
			}

			return send.Run(ctx, options)
		},
	}
)

// Execute runs the larmvakt-send CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&station, "station", "s", "", "station name for the published event")
	rootCmd.Flags().StringVarP(&category, "category", "k", "", "alarm category text")
	rootCmd.Flags().BoolVarP(&total, "total", "t", false, "publish a full mobilization event")
	rootCmd.Flags().BoolVar(&production, "production", false, "publish a real alarm, not a drill")
}
