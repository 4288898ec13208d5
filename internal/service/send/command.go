package send

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/larmkedjan/larmvakt/internal/classifier"
	"github.com/larmkedjan/larmvakt/internal/config"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/logger"
	"github.com/larmkedjan/larmvakt/internal/relay"
)

// Options controls the drill publisher.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Station names the fire station the drill targets.
	Station string
	// Category is the alarm category text; defaults to the drill category.
	Category string
	// Total marks the drill as a full mobilization.
	Total bool
	// Production publishes a real event instead of a drill. Monitors not
	// in test mode will treat it as an actual alarm.
	Production bool
}

// ErrRelayRequired indicates the relay is unreachable; a drill that
// nobody can receive is refused rather than silently dropped.
var ErrRelayRequired = errors.New("relay unreachable, drill not published")

// Run publishes a single drill event to the relay so every subscribed
// device can rehearse the alarm flow without waiting for dispatch.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "larmvakt-send")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	client := relay.New(ctx, cfg.Relay.Addr,
		relay.WithPassword(cfg.Relay.Password),
		relay.WithDB(cfg.Relay.DB),
		relay.WithStream(cfg.Relay.Stream),
		relay.WithCallTimeout(cfg.Timeout))
	defer client.Close()

	if client.Offline() {
		return ErrRelayRequired
	}

	event := buildEvent(cfg, opts)

	id, err := client.Publish(ctx, event)
	if err != nil {
		return fmt.Errorf("publish drill: %w", err)
	}

	logger.InfoKV(ctx, "Event published",
		"event_id", id,
		"station", event.Station,
		"category", event.Category,
		"test_mode", event.TestMode)

	return nil
}

// buildEvent assembles the outgoing event from the command options.
func buildEvent(cfg *config.Config, opts *Options) *domain.Event {
	category := opts.Category
	if category == "" {
		category = classifier.TestCategory
	}

	eventType := domain.TypeRegular
	if opts.Total {
		category = classifier.TotalCategory
		eventType = domain.TypeTotal
	}

	return &domain.Event{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Station:        opts.Station,
		Category:       category,
		Type:           eventType,
		IsTotalAlarm:   opts.Total,
		SourceDeviceID: cfg.DeviceID,
		TestMode:       !opts.Production,
	}
}
