package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/effects"
)

var errBrokenSpeaker = errors.New("sound device busy")

// fakeExecutor records side-effect requests and optionally fails.
type fakeExecutor struct {
	mu sync.Mutex

	activations  []*effects.Request
	acks         []*effects.AckRequest
	activateErr  error
	acknowledges int
}

func (f *fakeExecutor) Activate(_ context.Context, req *effects.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.activations = append(f.activations, req)

	return f.activateErr
}

func (f *fakeExecutor) Acknowledge(_ context.Context, req *effects.AckRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acks = append(f.acks, req)
	f.acknowledges++

	return nil
}

func (f *fakeExecutor) activationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.activations)
}

// fakeHistory records appended events with idempotence by id.
type fakeHistory struct {
	mu   sync.Mutex
	byID map[string]*domain.Event
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{byID: make(map[string]*domain.Event)}
}

func (f *fakeHistory) Append(_ context.Context, e *domain.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.byID[e.ID]; seen {
		return false, nil
	}

	f.byID[e.ID] = e

	return true, nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.byID)
}

// fakePublisher signals publishes on a channel so tests can await them.
type fakePublisher struct {
	published chan *domain.Event
	err       error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan *domain.Event, 8)}
}

func (f *fakePublisher) Publish(_ context.Context, e *domain.Event) (string, error) {
	f.published <- e

	return e.ID, f.err
}

func testEvent(id string, total, testMode bool) *domain.Event {
	alarmType := domain.TypeRegular
	if total {
		alarmType = domain.TypeTotal
	}

	return &domain.Event{
		ID:           id,
		Timestamp:    time.Now(),
		Station:      "Mölnlycke RIB",
		Category:     "Brand i byggnad",
		Type:         alarmType,
		IsTotalAlarm: total,
		TestMode:     testMode,
	}
}

// TestLocalDiscardWhenNotMonitoring drops local events while monitoring is
// off but still accepts remote ones.
func TestLocalDiscardWhenNotMonitoring(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	e := New(exec, newFakeHistory(), &domain.Settings{})

	e.Submit(context.Background(), testEvent("local", false, false), OriginLocal)
	require.Equal(t, StateIdle, e.Snapshot().State)

	// Passive devices always receive relayed alarms.
	e.Submit(context.Background(), testEvent("remote", false, false), OriginRemote)
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestTestModeSeparation keeps test and production alarms apart in both
// directions and for both origins.
func TestTestModeSeparation(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	hist := newFakeHistory()
	e := New(exec, hist, &domain.Settings{})
	e.SetMonitoring(true)

	// Test event on a production device: discarded, also when remote.
	e.Submit(context.Background(), testEvent("t1", false, true), OriginLocal)
	e.Submit(context.Background(), testEvent("t2", false, true), OriginRemote)
	require.Equal(t, StateIdle, e.Snapshot().State)
	require.Zero(t, hist.count())

	// Production event on a test-mode device: discarded too.
	e.UpdateSettings(&domain.Settings{TestMode: true})
	e.Submit(context.Background(), testEvent("p1", false, false), OriginLocal)
	require.Equal(t, StateIdle, e.Snapshot().State)

	// Matching test flags activate.
	e.Submit(context.Background(), testEvent("t3", false, true), OriginLocal)
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestOnlyTotalAlarmFilter discards regular dispatches entirely:
// no state change, no history, no publish.
func TestOnlyTotalAlarmFilter(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	hist := newFakeHistory()
	pub := newFakePublisher()
	e := New(exec, hist, &domain.Settings{OnlyTotalAlarm: true}, WithPublisher(pub))
	e.SetMonitoring(true)

	e.Submit(context.Background(), testEvent("regular", false, false), OriginLocal)

	require.Equal(t, StateIdle, e.Snapshot().State)
	require.Zero(t, hist.count())
	require.Zero(t, exec.activationCount())
	require.Empty(t, pub.published)

	e.Submit(context.Background(), testEvent("total", true, false), OriginLocal)
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestScheduleGating blocks local events outside the window while remote
// events bypass the schedule entirely.
func TestScheduleGating(t *testing.T) {
	t.Parallel()

	noon := time.Date(2025, 10, 28, 12, 0, 0, 0, time.Local)
	night := &domain.Window{StartMinute: 22 * 60, EndMinute: 6 * 60}

	exec := new(fakeExecutor)
	hist := newFakeHistory()
	e := New(exec, hist, &domain.Settings{Schedule: night},
		WithClock(func() time.Time { return noon }))
	e.SetMonitoring(true)

	e.Submit(context.Background(), testEvent("blocked", false, false), OriginLocal)
	require.Equal(t, StateIdle, e.Snapshot().State)
	require.Zero(t, hist.count())

	// Remote events ignore the local quiet period.
	e.Submit(context.Background(), testEvent("relayed", false, false), OriginRemote)
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestActivationPath verifies state, side effects, history and async publish.
func TestActivationPath(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	hist := newFakeHistory()
	pub := newFakePublisher()
	e := New(exec, hist, &domain.Settings{}, WithPublisher(pub))
	e.SetMonitoring(true)

	event := testEvent("evt-1", true, false)
	e.Submit(context.Background(), event, OriginLocal)

	snap := e.Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.Equal(t, "evt-1", snap.Current.ID)
	require.Equal(t, 1, hist.count())
	require.Equal(t, 1, exec.activationCount())
	require.True(t, exec.activations[0].PlaySound)
	require.True(t, exec.activations[0].IsTotalAlarm)
	require.Equal(t, "TOTALLARM!", exec.activations[0].Notification.Title)

	select {
	case published := <-pub.published:
		require.Equal(t, "evt-1", published.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a relay publish")
	}
}

// TestRemoteEventsAreNotRepublished keeps relayed alarms off the publisher.
func TestRemoteEventsAreNotRepublished(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	e := New(new(fakeExecutor), newFakeHistory(), &domain.Settings{}, WithPublisher(pub))

	e.Submit(context.Background(), testEvent("remote", false, false), OriginRemote)
	require.Equal(t, StateActive, e.Snapshot().State)

	select {
	case <-pub.published:
		t.Fatal("remote event must not be republished")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestRetriggerWhileActive replaces the held event without leaving active.
func TestRetriggerWhileActive(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	e := New(exec, newFakeHistory(), &domain.Settings{})
	e.SetMonitoring(true)

	e.Submit(context.Background(), testEvent("first", false, false), OriginLocal)
	e.Submit(context.Background(), testEvent("second", true, false), OriginLocal)

	snap := e.Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.Equal(t, "second", snap.Current.ID)
	require.Equal(t, 2, exec.activationCount())
}

// TestDuplicateIDIsNoOp: redelivery causes no extra side effects or rows.
func TestDuplicateIDIsNoOp(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	hist := newFakeHistory()
	e := New(exec, hist, &domain.Settings{})
	e.SetMonitoring(true)

	event := testEvent("dup", false, false)
	e.Submit(context.Background(), event, OriginLocal)
	e.Submit(context.Background(), event, OriginRemote)
	e.Submit(context.Background(), event, OriginRemote)

	require.Equal(t, 1, exec.activationCount())
	require.Equal(t, 1, hist.count())
}

// TestSeenMemoryIsBounded evicts the oldest dedupe entries once the cap is
// reached while recent ids keep deduplicating.
func TestSeenMemoryIsBounded(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	e := New(exec, newFakeHistory(), &domain.Settings{})
	e.SetMonitoring(true)
	e.seenLimit = 2

	e.Submit(context.Background(), testEvent("old", false, false), OriginLocal)
	e.Submit(context.Background(), testEvent("mid", false, false), OriginLocal)
	e.Submit(context.Background(), testEvent("new", false, false), OriginLocal)
	require.Equal(t, 3, exec.activationCount())
	require.Len(t, e.seen, 2)

	// The most recent id still deduplicates.
	e.Submit(context.Background(), testEvent("new", false, false), OriginRemote)
	require.Equal(t, 3, exec.activationCount())

	// The evicted id is treated as fresh again.
	e.Submit(context.Background(), testEvent("old", false, false), OriginLocal)
	require.Equal(t, 4, exec.activationCount())
}

// TestAcknowledge transitions back to idle and is a no-op while idle.
func TestAcknowledge(t *testing.T) {
	t.Parallel()

	exec := new(fakeExecutor)
	e := New(exec, newFakeHistory(), &domain.Settings{}, WithDeviceName("Stationsvakten"))

	// Idle acknowledge is a no-op, not an error.
	e.Acknowledge(context.Background())
	require.Zero(t, exec.acknowledges)

	e.SetMonitoring(true)
	e.Submit(context.Background(), testEvent("evt", false, false), OriginLocal)
	require.Equal(t, StateActive, e.Snapshot().State)

	e.Acknowledge(context.Background())

	snap := e.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Current)
	require.Equal(t, 1, exec.acknowledges)
	require.Equal(t, "Stationsvakten", exec.acks[0].AcknowledgedBy)
}

// TestSideEffectFailureDoesNotBlockActivation keeps the engine active even
// when the executor fails.
func TestSideEffectFailureDoesNotBlockActivation(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{activateErr: errBrokenSpeaker}
	e := New(exec, newFakeHistory(), &domain.Settings{})
	e.SetMonitoring(true)

	e.Submit(context.Background(), testEvent("evt", false, false), OriginLocal)
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestPublishFailureDoesNotRevert keeps the local activation when the relay
// rejects the publish.
func TestPublishFailureDoesNotRevert(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	pub.err = errors.New("relay unavailable")

	e := New(new(fakeExecutor), newFakeHistory(), &domain.Settings{}, WithPublisher(pub))
	e.SetMonitoring(true)

	e.Submit(context.Background(), testEvent("evt", false, false), OriginLocal)

	<-pub.published
	require.Equal(t, StateActive, e.Snapshot().State)
}

// TestUpdateSettingsAtomicReplace swaps the whole settings object.
func TestUpdateSettingsAtomicReplace(t *testing.T) {
	t.Parallel()

	e := New(new(fakeExecutor), newFakeHistory(), &domain.Settings{OnlyTotalAlarm: true})

	updated := &domain.Settings{TestMode: true, Mode: domain.ModeActive}
	e.UpdateSettings(updated)

	got := e.Settings()
	require.True(t, got.TestMode)
	require.False(t, got.OnlyTotalAlarm)

	// The engine holds its own copy.
	require.NotSame(t, updated, got)
}
