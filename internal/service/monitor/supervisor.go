package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/larmkedjan/larmvakt/internal/classifier"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/engine"
	"github.com/larmkedjan/larmvakt/internal/ingest"
	"github.com/larmkedjan/larmvakt/internal/logger"
	"github.com/larmkedjan/larmvakt/internal/relay"
)

// ErrAlreadyRunning is returned when Start is called on a running supervisor.
var ErrAlreadyRunning = errors.New("monitoring already running")

// errScheduleInvalid rejects settings updates with out-of-range windows.
var errScheduleInvalid = errors.New("schedule window minutes must be within 0..1439")

// remoteBufferSize bounds the queue between the relay feed and the engine.
const remoteBufferSize = 64

// DefaultBackfillLimit is how many recent events seed the history on start.
const DefaultBackfillLimit = 100

// DefaultPresenceTTL is how long a presence entry outlives its last refresh.
const DefaultPresenceTTL = 30 * time.Second

// Relay abstracts the shared event store operations the supervisor needs.
type Relay interface {
	SubscribeRecent(ctx context.Context, limit int, onBatch func(events []*domain.Event)) (func(), error)
	SetPresence(ctx context.Context, p *relay.Presence, ttl time.Duration) error
	Offline() bool
}

// Seeder backfills the history store from a relay snapshot.
type Seeder interface {
	Seed(ctx context.Context, events []*domain.Event) (int, error)
}

// Params wires the supervisor's collaborators.
type Params struct {
	// DeviceID identifies this device on the relay.
	DeviceID string
	// DeviceName is the human-readable label for presence and notifications.
	DeviceName string
	// Classifier parses raw dispatch messages.
	Classifier *classifier.Classifier
	// Engine is the alarm state machine.
	Engine *engine.Engine
	// Relay is the shared event store; nil disables synchronization.
	Relay Relay
	// History receives the relay backfill; nil disables seeding.
	History Seeder
	// Source delivers raw messages; nil means relay-only operation.
	Source ingest.Source
	// BackfillLimit is how many recent events to seed on start.
	BackfillLimit int
	// PresenceTTL is the liveness entry lifetime on the relay.
	PresenceTTL time.Duration
	// PersistSettings is called after every settings update so the host
	// can store the new values. May be nil.
	PersistSettings func(ctx context.Context, s *domain.Settings) error
}

// Supervisor owns the monitoring lifecycle: it starts and stops the raw
// message source, keeps the relay subscription alive, and funnels remote
// events through a single consumer goroutine into the engine so the
// engine's critical sections are never entered re-entrantly from the
// relay's delivery callback.
type Supervisor struct {
	deviceID      string
	deviceName    string
	classifier    *classifier.Classifier
	engine        *engine.Engine
	relay         Relay
	history       Seeder
	source        ingest.Source
	backfillLimit int
	presenceTTL   time.Duration
	persist       func(ctx context.Context, s *domain.Settings) error

	// mu guards the run pointer. It is only ever held for the swap; all
	// teardown waiting happens with the lock released, because an in-flight
	// source delivery needs the lock to observe that the run is gone.
	mu sync.Mutex
	// current is the active run, nil when stopped.
	current *run
}

// run holds the lifecycle state of one Start/Stop cycle.
type run struct {
	// ctx is canceled when the run ends.
	ctx context.Context
	// cancel stops the run's goroutines.
	cancel context.CancelFunc
	// unsubscribe tears down the relay subscription, nil when none.
	unsubscribe func()
	// remote carries relayed events to the consumer goroutine.
	remote chan *domain.Event
	// wg waits for the consumer and heartbeat goroutines.
	wg sync.WaitGroup
}

// NewSupervisor assembles a supervisor from its collaborators.
func NewSupervisor(p *Params) *Supervisor {
	s := &Supervisor{
		deviceID:      p.DeviceID,
		deviceName:    p.DeviceName,
		classifier:    p.Classifier,
		engine:        p.Engine,
		relay:         p.Relay,
		history:       p.History,
		source:        p.Source,
		backfillLimit: p.BackfillLimit,
		presenceTTL:   p.PresenceTTL,
		persist:       p.PersistSettings,
	}

	if s.backfillLimit <= 0 {
		s.backfillLimit = DefaultBackfillLimit
	}

	if s.presenceTTL <= 0 {
		s.presenceTTL = DefaultPresenceTTL
	}

	return s
}

// Start begins monitoring: subscribes to the relay, seeds the history from
// the backfill batch, and opens the raw message source. A source that
// cannot be opened fails the whole start with ErrSourceUnavailable so the
// host can surface the problem; an unreachable relay does not, the device
// simply runs locally.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		remote: make(chan *domain.Event, remoteBufferSize),
	}

	s.mu.Lock()

	if s.current != nil {
		s.mu.Unlock()
		cancel()

		return ErrAlreadyRunning
	}

	s.current = r
	s.mu.Unlock()

	// Single consumer preserves the engine's arrival-order processing.
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-runCtx.Done():
				return
			case e := <-r.remote:
				s.engine.Submit(runCtx, e, engine.OriginRemote)
			}
		}
	}()

	if s.relay != nil {
		if err := s.subscribe(runCtx, r); err != nil {
			// Degraded: no synchronization, local operation continues.
			logger.ErrorKV(runCtx, "Relay subscription failed, continuing locally", "error", err)
		}
	}

	if err := s.startSource(runCtx); err != nil {
		s.Stop()

		return err
	}

	if s.relay != nil && !s.relay.Offline() {
		s.startHeartbeat(runCtx, r)
	}

	s.engine.SetMonitoring(true)

	settings := s.engine.Settings()
	logger.InfoKV(runCtx, "Monitoring started",
		"device_id", s.deviceID,
		"device_mode", string(settings.Mode),
		"only_total_alarm", settings.OnlyTotalAlarm,
		"test_mode", settings.TestMode,
		"schedule_enabled", settings.Schedule != nil)

	return nil
}

// Stop halts monitoring: the source stops first so no new local event can
// fire, then the relay subscription and the consumer goroutine are torn
// down. Stop returns only after every in-flight delivery has finished.
// The engine's current alarm state is left untouched; an active alarm
// still needs a human acknowledgement.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		return
	}

	// Teardown runs with mu released: an in-flight poll blocked in
	// HandleIncoming needs the lock to finish before the source can stop.
	if s.source != nil {
		s.source.Stop()
	}

	if r.unsubscribe != nil {
		r.unsubscribe()
	}

	r.cancel()
	r.wg.Wait()

	s.engine.SetMonitoring(false)

	logger.InfoKV(context.Background(), "Monitoring stopped", "device_id", s.deviceID)
}

// Running reports whether monitoring is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current != nil
}

// HandleIncoming is the entry point for the platform listener delivering a
// raw text message. Classification failures and untrusted senders are
// silent discards; they never surface as errors.
func (s *Supervisor) HandleIncoming(rawText, senderID string, receivedAtMs int64) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return
	}

	ctx := r.ctx

	settings := s.engine.Settings()

	// Passive devices never classify raw messages themselves.
	if settings.Mode != domain.ModeActive {
		logger.Debug(ctx, "Ignoring raw message, device is passive")

		return
	}

	receivedAt := time.UnixMilli(receivedAtMs)

	// The test path and the trusted-sender path are never combined for
	// the same message; the active test-mode setting picks exactly one.
	var event *domain.Event
	if settings.TestMode {
		event = s.classifier.ClassifyTest(rawText, senderID, receivedAt)
	} else {
		event = s.classifier.Classify(rawText, senderID, receivedAt)
	}

	if event == nil {
		logger.DebugKV(ctx, "Message discarded by classifier", "sender", senderID)

		return
	}

	event.SourceDeviceID = s.deviceID

	s.engine.Submit(ctx, event, engine.OriginLocal)
}

// Acknowledge confirms the active alarm, if any.
func (s *Supervisor) Acknowledge(ctx context.Context) {
	s.engine.Acknowledge(ctx)
}

// Snapshot returns the engine's current view for the host shell.
func (s *Supervisor) Snapshot() *engine.Snapshot {
	return s.engine.Snapshot()
}

// UpdateSettings validates and atomically replaces the monitoring settings,
// then hands them to the persistence callback.
func (s *Supervisor) UpdateSettings(ctx context.Context, settings *domain.Settings) error {
	if settings == nil {
		return nil
	}

	if settings.Schedule != nil && !settings.Schedule.Valid() {
		return errScheduleInvalid
	}

	s.engine.UpdateSettings(settings)

	if s.persist != nil {
		if err := s.persist(ctx, settings.Clone()); err != nil {
			return fmt.Errorf("persist settings: %w", err)
		}
	}

	logger.InfoKV(ctx, "Settings updated",
		"only_total_alarm", settings.OnlyTotalAlarm,
		"test_mode", settings.TestMode,
		"device_mode", string(settings.Mode),
		"schedule_enabled", settings.Schedule != nil)

	return nil
}

// subscribe opens the relay subscription. The initial batch is a
// backfill: it seeds the history without activating the alarm, since those
// events already happened. Incremental deliveries go through the consumer
// channel into the engine.
func (s *Supervisor) subscribe(ctx context.Context, r *run) error {
	var (
		batchMu sync.Mutex
		initial = true
	)

	unsubscribe, err := s.relay.SubscribeRecent(ctx, s.backfillLimit, func(events []*domain.Event) {
		batchMu.Lock()
		first := initial
		initial = false
		batchMu.Unlock()

		if first {
			if s.history == nil || len(events) == 0 {
				return
			}

			added, seedErr := s.history.Seed(ctx, events)
			if seedErr != nil {
				logger.ErrorKV(ctx, "History backfill failed", "error", seedErr)
			} else if added > 0 {
				logger.InfoKV(ctx, "History backfilled from relay", "events", added)
			}

			return
		}

		for _, e := range events {
			select {
			case r.remote <- e:
			case <-ctx.Done():
				return
			default:
				logger.WarnKV(ctx, "Remote event queue full, dropping", "event_id", e.ID)
			}
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	r.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// startSource opens the raw message source.
func (s *Supervisor) startSource(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	if err := s.source.Start(ctx, s.HandleIncoming); err != nil {
		return fmt.Errorf("start message source: %w", err)
	}

	return nil
}

// startHeartbeat refreshes this device's presence entry until the run ends.
func (s *Supervisor) startHeartbeat(ctx context.Context, r *run) {
	interval := s.presenceTTL / 2

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.refreshPresence(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// refreshPresence writes one presence heartbeat, best effort.
func (s *Supervisor) refreshPresence(ctx context.Context) {
	err := s.relay.SetPresence(ctx, &relay.Presence{
		DeviceID:   s.deviceID,
		DeviceName: s.deviceName,
		Monitoring: true,
	}, s.presenceTTL)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.DebugKV(ctx, "Presence refresh failed", "error", err)
	}
}
