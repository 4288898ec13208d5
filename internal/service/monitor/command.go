package monitor

import (
	"context"
	"fmt"

	"github.com/larmkedjan/larmvakt/internal/classifier"
	"github.com/larmkedjan/larmvakt/internal/config"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/effects"
	"github.com/larmkedjan/larmvakt/internal/engine"
	"github.com/larmkedjan/larmvakt/internal/history"
	"github.com/larmkedjan/larmvakt/internal/ingest"
	"github.com/larmkedjan/larmvakt/internal/logger"
	"github.com/larmkedjan/larmvakt/internal/relay"
	repository "github.com/larmkedjan/larmvakt/internal/repository/history"
)

// Options controls the monitoring daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// HistoryFile provides an optional override for the history JSON path.
	HistoryFile string
	// Passive forces passive mode regardless of the configured device mode.
	Passive bool
}

// Run starts the monitoring daemon and blocks until the context is
// canceled. Loads configuration first, then wires the message source, the
// classifier, the alarm engine and the relay into a supervisor.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "larmvakt")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Use HistoryFile from config unless overridden by command line option.
	historyFile := cfg.HistoryFile
	if opts.HistoryFile != "" {
		historyFile = opts.HistoryFile
	}

	settings := cfg.Monitor.Clone()
	if opts.Passive {
		settings.Mode = domain.ModePassive
	}

	repo := repository.NewFileRepository(historyFile)

	store, err := history.NewStore(ctx, repo)
	if err != nil {
		return fmt.Errorf("initialise history: %w", err)
	}

	relayClient := relay.New(ctx, cfg.Relay.Addr,
		relay.WithPassword(cfg.Relay.Password),
		relay.WithDB(cfg.Relay.DB),
		relay.WithStream(cfg.Relay.Stream),
		relay.WithCallTimeout(cfg.Timeout))
	defer relayClient.Close()

	executor := buildExecutor(cfg)

	eng := engine.New(executor, store, settings,
		engine.WithPublisher(relayClient),
		engine.WithDeviceName(cfg.DeviceName))

	source := buildSource(cfg, settings)

	supervisor := NewSupervisor(&Params{
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		Classifier: classifier.New(cfg.TrustedSender),
		Engine:     eng,
		Relay:      relayClient,
		History:    store,
		Source:     source,
		PersistSettings: func(ctx context.Context, s *domain.Settings) error {
			cfg.Monitor = *s

			return config.Save(opts.ConfigPath, cfg)
		},
	})

	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	logger.InfoKV(ctx, "Larmvakt running",
		"device_id", cfg.DeviceID,
		"history_file", historyFile,
		"relay_offline", relayClient.Offline())

	<-ctx.Done()

	supervisor.Stop()
	logger.Info(ctx, "Larmvakt stopped")

	return nil
}

// buildExecutor picks the side-effect executor: a sound player when a
// command is configured, otherwise log-only output.
func buildExecutor(cfg *config.Config) effects.Executor {
	if len(cfg.SoundCommand) > 0 {
		return effects.NewPlayerExecutor(cfg.SoundCommand)
	}

	return effects.NewLogExecutor()
}

// buildSource picks the raw message source. Passive devices receive events
// from the relay only and run without one.
func buildSource(cfg *config.Config, settings *domain.Settings) ingest.Source {
	if settings.Mode != domain.ModeActive {
		return nil
	}

	if cfg.Ingest.BrokerURL != "" {
		return ingest.NewMQTTSource(cfg.Ingest.BrokerURL, cfg.Ingest.Topic,
			cfg.Ingest.Username, cfg.Ingest.Password)
	}

	if cfg.Ingest.SpoolDir != "" {
		return ingest.NewMailboxSource(cfg.Ingest.SpoolDir, cfg.Ingest.PollInterval)
	}

	return nil
}
