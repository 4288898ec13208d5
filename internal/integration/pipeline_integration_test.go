package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/larmkedjan/larmvakt/internal/classifier"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/effects"
	"github.com/larmkedjan/larmvakt/internal/engine"
	"github.com/larmkedjan/larmvakt/internal/history"
	"github.com/larmkedjan/larmvakt/internal/ingest"
	"github.com/larmkedjan/larmvakt/internal/relay"
	repository "github.com/larmkedjan/larmvakt/internal/repository/history"
	"github.com/larmkedjan/larmvakt/internal/service/monitor"
)

const dispatchMessage = "Larminformation från VRR Ledningscentral\n" +
	"LARM Mölnlycke RIB\n" +
	"TOTALLARM - Fri inryckning\n" +
	"TID : 2025-10-28 14:30:15.123"

// countingExecutor records activations across devices.
type countingExecutor struct {
	mu          sync.Mutex
	activations int
	lastEvent   *domain.Event
}

func (c *countingExecutor) Activate(_ context.Context, req *effects.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activations++
	c.lastEvent = req.Event

	return nil
}

func (c *countingExecutor) Acknowledge(context.Context, *effects.AckRequest) error {
	return nil
}

func (c *countingExecutor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.activations
}

// device bundles one simulated station for pipeline tests.
type device struct {
	supervisor *monitor.Supervisor
	executor   *countingExecutor
	store      *history.Store
	relay      *relay.Client
	engine     *engine.Engine
}

// startDevice wires a full station against the shared relay and starts it.
func startDevice(
	t *testing.T, redisAddr, deviceID string, settings *domain.Settings, src ingest.Source,
	engineOpts ...engine.Option,
) *device {
	t.Helper()

	ctx := context.Background()

	client := relay.New(ctx, redisAddr, relay.WithCallTimeout(2*time.Second))
	t.Cleanup(func() { _ = client.Close() })

	require.False(t, client.Offline())

	historyFile := filepath.Join(t.TempDir(), "history.json")

	store, err := history.NewStore(ctx, repository.NewFileRepository(historyFile))
	require.NoError(t, err)

	executor := &countingExecutor{}

	opts := append([]engine.Option{
		engine.WithPublisher(client),
		engine.WithDeviceName(deviceID),
	}, engineOpts...)

	eng := engine.New(executor, store, settings, opts...)

	supervisor := monitor.NewSupervisor(&monitor.Params{
		DeviceID:   deviceID,
		DeviceName: deviceID,
		Classifier: classifier.New("3315"),
		Engine:     eng,
		Relay:      client,
		History:    store,
		Source:     src,
	})

	require.NoError(t, supervisor.Start(ctx))
	t.Cleanup(supervisor.Stop)

	return &device{
		supervisor: supervisor,
		executor:   executor,
		store:      store,
		relay:      client,
		engine:     eng,
	}
}

// TestPipeline_DispatchPropagates runs a dispatch message through one
// station and expects the alarm to reach a second station via the relay,
// without re-activating the first one when its own event echoes back.
func TestPipeline_DispatchPropagates(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	active := startDevice(t, mr.Addr(), "station-a", &domain.Settings{Mode: domain.ModeActive}, nil)
	passive := startDevice(t, mr.Addr(), "station-b", &domain.Settings{Mode: domain.ModePassive}, nil)

	active.supervisor.HandleIncoming(dispatchMessage, "3315", time.Now().UnixMilli())

	snap := active.supervisor.Snapshot()
	require.Equal(t, engine.StateActive, snap.State)
	require.True(t, snap.Current.IsTotalAlarm)
	require.Equal(t, "station-a", snap.Current.SourceDeviceID)

	// The relay feed delivers the event to the passive station.
	require.Eventually(t, func() bool {
		return passive.executor.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	passiveSnap := passive.supervisor.Snapshot()
	require.Equal(t, snap.Current.ID, passiveSnap.Current.ID)
	require.Equal(t, 1, passive.store.Count())

	// The echo of station-a's own event must not re-activate it.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, active.executor.count())
	require.Equal(t, 1, active.store.Count())
}

// TestPipeline_ScheduleBlocksLocalDispatch keeps the station silent outside
// its configured window and publishes nothing to the relay.
func TestPipeline_ScheduleBlocksLocalDispatch(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	// 03:00, outside an 08:00-17:00 window.
	night := time.Date(2025, 10, 28, 3, 0, 0, 0, time.Local)
	settings := &domain.Settings{
		Mode: domain.ModeActive,
		Schedule: &domain.Window{
			StartMinute: 8 * 60,
			EndMinute:   17 * 60,
		},
	}

	dev := startDevice(t, mr.Addr(), "station-a", settings, nil,
		engine.WithClock(func() time.Time { return night }))

	dev.supervisor.HandleIncoming(dispatchMessage, "3315", night.UnixMilli())

	require.Equal(t, engine.StateIdle, dev.supervisor.Snapshot().State)
	require.Equal(t, 0, dev.executor.count())
	require.Equal(t, 0, dev.store.Count())

	events, err := dev.relay.FetchHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

// TestPipeline_DrillReachesTestModeOnly publishes a drill and verifies
// that only the station in test mode reacts.
func TestPipeline_DrillReachesTestModeOnly(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	drilling := startDevice(t, mr.Addr(), "station-a",
		&domain.Settings{Mode: domain.ModePassive, TestMode: true}, nil)
	production := startDevice(t, mr.Addr(), "station-b",
		&domain.Settings{Mode: domain.ModePassive}, nil)

	ctx := context.Background()

	sender := relay.New(ctx, mr.Addr(), relay.WithCallTimeout(2*time.Second))
	defer sender.Close()

	_, err := sender.Publish(ctx, &domain.Event{
		ID:        "drill-1",
		Timestamp: time.Now(),
		Category:  classifier.TestCategory,
		Type:      domain.TypeRegular,
		TestMode:  true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return drilling.executor.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.True(t, drilling.supervisor.Snapshot().Current.TestMode)

	// The production station must stay idle.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, production.executor.count())
	require.Equal(t, engine.StateIdle, production.supervisor.Snapshot().State)
}

// TestPipeline_MailboxSourceDelivers drops a gateway file into the spool
// directory and expects the full classify-and-activate path to run.
func TestPipeline_MailboxSourceDelivers(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	spoolDir := filepath.Join(t.TempDir(), "spool")
	src := ingest.NewMailboxSource(spoolDir, 20*time.Millisecond)

	dev := startDevice(t, mr.Addr(), "station-a", &domain.Settings{Mode: domain.ModeActive}, src)

	payload, err := json.Marshal(map[string]any{
		"sender":         "3315",
		"body":           dispatchMessage,
		"received_at_ms": time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(spoolDir, "msg-001.json"), payload, 0o600))

	require.Eventually(t, func() bool {
		return dev.executor.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	snap := dev.supervisor.Snapshot()
	require.Equal(t, engine.StateActive, snap.State)
	require.Equal(t, "Mölnlycke RIB", snap.Current.Station)
}

// TestPipeline_BackfillSeedsNewDevice checks that a station joining late
// receives existing events into its history without sounding the alarm.
func TestPipeline_BackfillSeedsNewDevice(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	ctx := context.Background()

	sender := relay.New(ctx, mr.Addr(), relay.WithCallTimeout(2*time.Second))
	defer sender.Close()

	for _, id := range []string{"old-1", "old-2"} {
		_, err := sender.Publish(ctx, &domain.Event{
			ID:        id,
			Timestamp: time.Now().Add(-time.Hour),
			Station:   "Landvetter",
			Category:  "Brand i byggnad",
			Type:      domain.TypeRegular,
		})
		require.NoError(t, err)
	}

	dev := startDevice(t, mr.Addr(), "station-late", &domain.Settings{Mode: domain.ModePassive}, nil)

	require.Equal(t, 2, dev.store.Count())
	require.Equal(t, 0, dev.executor.count())
	require.Equal(t, engine.StateIdle, dev.supervisor.Snapshot().State)
}
