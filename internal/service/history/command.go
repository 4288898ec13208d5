package history

import (
	"context"
	"fmt"
	"os"

	"github.com/larmkedjan/larmvakt/internal/classifier"
	"github.com/larmkedjan/larmvakt/internal/config"
	"github.com/larmkedjan/larmvakt/internal/history"
	"github.com/larmkedjan/larmvakt/internal/logger"
	"github.com/larmkedjan/larmvakt/internal/relay"
	repository "github.com/larmkedjan/larmvakt/internal/repository/history"
)

// Options controls the history listing command.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// HistoryFile provides an optional override for the history JSON path.
	HistoryFile string
	// Limit caps how many events are fetched from the relay.
	Limit int
	// TestEvents switches the output to the drill bucket.
	TestEvents bool
	// Devices switches the output to the relay presence listing.
	Devices bool
}

// DefaultFetchLimit caps the relay fetch when no limit is given.
const DefaultFetchLimit = 100

// Run prints the alarm history grouped by day, newest first. The local
// file is merged with the relay's recent events when the relay is
// reachable, so the listing works offline too.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "larmvakt-history")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	historyFile := cfg.HistoryFile
	if opts.HistoryFile != "" {
		historyFile = opts.HistoryFile
	}

	if opts.Limit <= 0 {
		opts.Limit = DefaultFetchLimit
	}

	if opts.Devices {
		return printDevices(ctx, cfg)
	}

	store, err := history.NewStore(ctx, repository.NewFileRepository(historyFile))
	if err != nil {
		return fmt.Errorf("initialise history: %w", err)
	}

	if err = mergeRelay(ctx, cfg, store, opts.Limit); err != nil {
		// Offline listing is still useful; report and continue.
		logger.WarnKV(ctx, "Relay fetch failed, showing local history only", "error", err)
	}

	if opts.TestEvents {
		return printTestEvents(store)
	}

	return printGroups(store)
}

// mergeRelay folds the relay's recent events into the local store.
func mergeRelay(ctx context.Context, cfg *config.Config, store *history.Store, limit int) error {
	client := relay.New(ctx, cfg.Relay.Addr,
		relay.WithPassword(cfg.Relay.Password),
		relay.WithDB(cfg.Relay.DB),
		relay.WithStream(cfg.Relay.Stream),
		relay.WithCallTimeout(cfg.Timeout))
	defer client.Close()

	if client.Offline() {
		return nil
	}

	events, err := client.FetchHistory(ctx, limit)
	if err != nil {
		return err
	}

	if _, err = store.Seed(ctx, events); err != nil {
		return err
	}

	return nil
}

// printGroups writes the production history, one day per block.
func printGroups(store *history.Store) error {
	groups := store.ListGroupedByDate()
	if len(groups) == 0 {
		fmt.Fprintln(os.Stdout, "Ingen larmhistorik.")

		return nil
	}

	for _, group := range groups {
		fmt.Fprintln(os.Stdout, group.Date)

		for _, e := range group.Events {
			fmt.Fprintf(os.Stdout, "  %s\n", classifier.FormatEvent(e))
		}
	}

	return nil
}

// printDevices lists the devices currently present on the relay.
func printDevices(ctx context.Context, cfg *config.Config) error {
	client := relay.New(ctx, cfg.Relay.Addr,
		relay.WithPassword(cfg.Relay.Password),
		relay.WithDB(cfg.Relay.DB),
		relay.WithStream(cfg.Relay.Stream),
		relay.WithCallTimeout(cfg.Timeout))
	defer client.Close()

	if client.Offline() {
		return relay.ErrRelayUnavailable
	}

	devices, err := client.ListPresence(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(os.Stdout, "Inga anslutna enheter.")

		return nil
	}

	for _, d := range devices {
		name := d.DeviceName
		if name == "" {
			name = d.DeviceID
		}

		status := "passiv"
		if d.Monitoring {
			status = "övervakar"
		}

		fmt.Fprintf(os.Stdout, "%s | %s | %s\n",
			name, status, d.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}

// printTestEvents writes the drill bucket as a flat list.
func printTestEvents(store *history.Store) error {
	events := store.ListTestEvents()
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "Inga testlarm.")

		return nil
	}

	for _, e := range events {
		fmt.Fprintf(os.Stdout, "%s\n", classifier.FormatEvent(e))
	}

	return nil
}
