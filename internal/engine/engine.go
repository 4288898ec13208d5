package engine

import (
	"context"
	"sync"
	"time"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/effects"
	"github.com/larmkedjan/larmvakt/internal/logger"
)

// Origin says which path an event arrived through.
type Origin string

const (
	// OriginLocal events were classified on this device.
	OriginLocal Origin = "local"
	// OriginRemote events arrived via the relay from another device.
	OriginRemote Origin = "remote"
)

// State is the alarm engine's current condition.
type State string

const (
	// StateIdle means no alarm is active.
	StateIdle State = "idle"
	// StateActive means an alarm is sounding and awaiting acknowledgement.
	StateActive State = "active"
)

// Publisher pushes locally triggered events to the shared relay.
type Publisher interface {
	Publish(ctx context.Context, e *domain.Event) (string, error)
}

// History records every activated alarm, idempotently by id.
type History interface {
	Append(ctx context.Context, e *domain.Event) (bool, error)
}

// Snapshot is a read-only view of the engine for the host shell.
type Snapshot struct {
	// State is the current engine state.
	State State
	// Current is the alarm held while active, nil when idle.
	Current *domain.Event
	// Monitoring reports whether local ingestion is enabled.
	Monitoring bool
	// Settings is a copy of the active monitoring settings.
	Settings *domain.Settings
}

// Engine is the sole authority on whether an event activates the local
// alarm. Submit and Acknowledge execute as mutually exclusive critical
// sections; settings are replaced atomically, never mutated in place.
type Engine struct {
	// deviceName labels acknowledge notifications.
	deviceName string
	// executor runs local side effects; its failures never alter state.
	executor effects.Executor
	// history records activated alarms.
	history History
	// publisher relays locally triggered alarms; nil disables publishing.
	publisher Publisher
	// now is the clock used for schedule gating, injectable in tests.
	now func() time.Time

	// mu serializes the discard/activate decision and state transitions.
	mu sync.Mutex
	// state is the current engine state.
	state State
	// current is the event held while active.
	current *domain.Event
	// seen holds recently activated event ids so relay redelivery is a
	// no-op. Bounded: once seenLimit ids are held the oldest is evicted.
	seen map[string]struct{}
	// seenOrder tracks insertion order for eviction.
	seenOrder []string
	// seenLimit caps the dedupe memory.
	seenLimit int
	// monitoring mirrors the supervisor's started/stopped condition.
	monitoring bool
	// settings is the active monitoring configuration.
	settings *domain.Settings
}

// maxSeenEntries bounds the dedupe memory. Relay redelivery happens within
// seconds of the original, so a long-running device never needs more than
// the most recent ids.
const maxSeenEntries = 1024

// Option configures engine behaviour.
type Option func(*Engine)

// WithPublisher sets the relay publisher for locally triggered alarms.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithDeviceName labels acknowledge notifications with the device name.
func WithDeviceName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.deviceName = name
		}
	}
}

// WithClock overrides the schedule-gating clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an idle engine with the given side-effect executor, history
// store and initial settings.
func New(executor effects.Executor, history History, settings *domain.Settings, opts ...Option) *Engine {
	if settings == nil {
		settings = &domain.Settings{Mode: domain.ModePassive}
	}

	e := &Engine{
		deviceName: "larmvakt",
		executor:   executor,
		history:    history,
		now:        time.Now,
		state:      StateIdle,
		seen:       make(map[string]struct{}),
		seenLimit:  maxSeenEntries,
		settings:   settings.Clone(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// UpdateSettings atomically replaces the monitoring settings.
func (e *Engine) UpdateSettings(s *domain.Settings) {
	if s == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = s.Clone()
}

// Settings returns a copy of the active settings.
func (e *Engine) Settings() *domain.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.settings.Clone()
}

// SetMonitoring flips the local ingestion flag. Remote events are accepted
// regardless of it; stopping monitoring never auto-acknowledges.
func (e *Engine) SetMonitoring(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.monitoring = enabled
}

// Snapshot returns a read-only copy of the engine state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return &Snapshot{
		State:      e.state,
		Current:    e.current.Clone(),
		Monitoring: e.monitoring,
		Settings:   e.settings.Clone(),
	}
}

// Submit runs an event through the filters and, when it qualifies,
// activates the alarm, records it in history, emits the side-effect bundle
// and (for local events) requests a relay publish.
//
// Re-triggering while active replaces the held event without leaving the
// active state. Redelivery of an already-seen id is a complete no-op.
func (e *Engine) Submit(ctx context.Context, event *domain.Event, origin Origin) {
	if event == nil {
		return
	}

	e.mu.Lock()

	if !e.admitLocked(ctx, event, origin) {
		e.mu.Unlock()

		return
	}

	e.state = StateActive
	e.current = event.Clone()
	e.rememberLocked(event.ID)

	request := e.buildRequestLocked(event)

	e.mu.Unlock()

	logger.InfoKV(ctx, "Alarm activated",
		"event_id", event.ID,
		"origin", string(origin),
		"category", event.Category,
		"total_alarm", event.IsTotalAlarm,
		"test_mode", event.TestMode)

	// Side effects are decoupled from state: a broken speaker never
	// leaves the engine stuck.
	if e.executor != nil {
		if err := e.executor.Activate(ctx, request); err != nil {
			logger.ErrorKV(ctx, "Side effect execution failed", "event_id", event.ID, "error", err)
		}
	}

	if e.history != nil {
		if _, err := e.history.Append(ctx, event); err != nil {
			logger.ErrorKV(ctx, "History append failed", "event_id", event.ID, "error", err)
		}
	}

	if origin == OriginLocal && e.publisher != nil {
		// Publishing is asynchronous and best-effort; a failure is logged
		// and never blocks or reverts the local activation.
		go func() {
			if _, err := e.publisher.Publish(ctx, event); err != nil {
				logger.ErrorKV(ctx, "Relay publish failed", "event_id", event.ID, "error", err)
			}
		}()
	}
}

// Acknowledge transitions the engine back to idle and emits the stop
// side-effect bundle. Acknowledging while idle is a no-op, not an error.
func (e *Engine) Acknowledge(ctx context.Context) {
	e.mu.Lock()

	if e.state != StateActive {
		e.mu.Unlock()

		return
	}

	acknowledged := e.current
	e.state = StateIdle
	e.current = nil

	e.mu.Unlock()

	logger.InfoKV(ctx, "Alarm acknowledged", "event_id", acknowledged.ID)

	if e.executor == nil {
		return
	}

	err := e.executor.Acknowledge(ctx, &effects.AckRequest{
		AcknowledgedBy: e.deviceName,
		Notification: effects.Notification{
			Title: "Larm avstängt",
			Body:  e.deviceName + " har bekräftat larmet",
		},
	})
	if err != nil {
		logger.ErrorKV(ctx, "Acknowledge side effect failed", "error", err)
	}
}

// rememberLocked records an activated id for dedupe, evicting the oldest
// entries once the memory is full. Callers must hold mu.
func (e *Engine) rememberLocked(id string) {
	e.seen[id] = struct{}{}
	e.seenOrder = append(e.seenOrder, id)

	for len(e.seenOrder) > e.seenLimit {
		oldest := e.seenOrder[0]
		e.seenOrder = e.seenOrder[1:]
		delete(e.seen, oldest)
	}
}

// admitLocked applies the filter chain and reports whether the event
// qualifies for activation. Callers must hold mu.
func (e *Engine) admitLocked(ctx context.Context, event *domain.Event, origin Origin) bool {
	// Redelivered ids must not re-trigger side effects or history rows.
	if _, dup := e.seen[event.ID]; dup {
		logger.DebugKV(ctx, "Duplicate event discarded", "event_id", event.ID)

		return false
	}

	if origin == OriginLocal && !e.monitoring {
		logger.DebugKV(ctx, "Local event discarded, monitoring disabled", "event_id", event.ID)

		return false
	}

	// Test events never bleed into production alarm state, or vice versa,
	// regardless of which device generated them.
	if event.TestMode != e.settings.TestMode {
		logger.DebugKV(ctx, "Event discarded, test mode mismatch",
			"event_id", event.ID, "event_test_mode", event.TestMode)

		return false
	}

	if e.settings.OnlyTotalAlarm && !event.IsTotalAlarm {
		logger.InfoKV(ctx, "Non-total alarm discarded", "event_id", event.ID, "category", event.Category)

		return false
	}

	// Schedule gating applies only to local ingestion; relayed alarms
	// activate regardless of the local quiet period. The asymmetry is
	// deliberate, not an oversight.
	if origin == OriginLocal && !e.settings.Schedule.ContainsTime(e.now()) {
		logger.InfoKV(ctx, "Alarm discarded, outside schedule window", "event_id", event.ID)

		return false
	}

	return true
}

// buildRequestLocked assembles the side-effect bundle. Callers must hold mu.
func (e *Engine) buildRequestLocked(event *domain.Event) *effects.Request {
	title := "UTRYCKNING!"
	if event.IsTotalAlarm {
		title = "TOTALLARM!"
	}

	body := event.Category
	if body == "" {
		body = "Larm från brandkåren"
	}

	return &effects.Request{
		Event:     event.Clone(),
		PlaySound: true,
		Vibrate:   true,
		Notification: effects.Notification{
			Title:  title,
			Body:   body,
			Sticky: true,
		},
		IsTotalAlarm: event.IsTotalAlarm,
	}
}
