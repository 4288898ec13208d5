package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	srv := miniredis.RunT(t)

	c := New(context.Background(), srv.Addr(), WithStream("test:alarms"))
	require.False(t, c.Offline())
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func relayEvent(id string, ts time.Time) *domain.Event {
	return &domain.Event{
		ID:        id,
		Timestamp: ts,
		Station:   "Mölnlycke RIB",
		Category:  "Brand i byggnad",
		Type:      domain.TypeRegular,
	}
}

// TestPublishAssignsAndConfirmsID covers id assignment and idempotent retry.
func TestPublishAssignsAndConfirmsID(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	ctx := context.Background()

	// Empty id -> relay assigns one.
	e := relayEvent("", time.Now())

	id, err := c.Publish(ctx, e)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Retrying with a confirmed id does not duplicate.
	e.ID = id

	again, err := c.Publish(ctx, e)
	require.NoError(t, err)
	require.Equal(t, id, again)

	events, err := c.FetchHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

// TestFetchHistoryOrdering checks newest-first order with id tie-break.
func TestFetchHistoryOrdering(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2025, 10, 28, 14, 0, 0, 0, time.UTC)

	for _, e := range []*domain.Event{
		relayEvent("b", base),
		relayEvent("a", base),
		relayEvent("c", base.Add(time.Hour)),
	} {
		_, err := c.Publish(ctx, e)
		require.NoError(t, err)
	}

	events, err := c.FetchHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "c", events[0].ID)
	require.Equal(t, "a", events[1].ID)
	require.Equal(t, "b", events[2].ID)

	// Limit trims from the oldest end.
	events, err = c.FetchHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "c", events[0].ID)
}

// TestSubscribeRecent receives the backfill and push updates,
// suppressing duplicate ids.
func TestSubscribeRecent(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Publish(ctx, relayEvent("old", time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []*domain.Event
	)

	unsubscribe, err := c.SubscribeRecent(ctx, 10, func(events []*domain.Event) {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, events...)
	})
	require.NoError(t, err)

	defer unsubscribe()

	// Initial batch contains the backfilled event.
	mu.Lock()
	require.Len(t, received, 1)
	require.Equal(t, "old", received[0].ID)
	mu.Unlock()

	_, err = c.Publish(ctx, relayEvent("new", time.Now()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Redelivering a known id is a no-op for the subscriber.
	_, err = c.Publish(ctx, relayEvent("new", time.Now()))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	require.Len(t, received, 2)
	mu.Unlock()
}

// TestOfflineMode verifies the degraded behavior without a reachable store.
func TestOfflineMode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	c := New(ctx, "")
	require.True(t, c.Offline())

	_, err := c.Publish(ctx, relayEvent("x", time.Now()))
	require.ErrorIs(t, err, ErrRelayUnavailable)

	_, err = c.FetchHistory(ctx, 10)
	require.ErrorIs(t, err, ErrRelayUnavailable)

	batches := 0

	unsubscribe, err := c.SubscribeRecent(ctx, 10, func(events []*domain.Event) {
		batches++

		require.Empty(t, events)
	})
	require.NoError(t, err)
	require.Equal(t, 1, batches)

	unsubscribe()
}

// TestErrorsCarryCause keeps the store's own error text visible behind the
// sentinel so an auth failure reads differently from a timeout.
func TestErrorsCarryCause(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()

	c := New(ctx, srv.Addr(), WithStream("test:alarms"))
	require.False(t, c.Offline())
	t.Cleanup(func() { _ = c.Close() })

	srv.SetError("NOAUTH Authentication required")

	_, err := c.Publish(ctx, relayEvent("x", time.Now()))
	require.ErrorIs(t, err, ErrRelayUnavailable)
	require.Contains(t, err.Error(), "NOAUTH")

	_, err = c.FetchHistory(ctx, 10)
	require.ErrorIs(t, err, ErrRelayUnavailable)
	require.Contains(t, err.Error(), "NOAUTH")

	err = c.SetPresence(ctx, &Presence{DeviceID: "station-1"}, time.Minute)
	require.ErrorIs(t, err, ErrRelayUnavailable)
	require.Contains(t, err.Error(), "NOAUTH")
}

// TestPresence stores and lists device liveness entries.
func TestPresence(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetPresence(ctx, &Presence{
		DeviceID:   "station-1",
		DeviceName: "Stationsvakten",
		Monitoring: true,
	}, time.Minute))

	require.NoError(t, c.SetPresence(ctx, &Presence{
		DeviceID: "station-2",
	}, time.Minute))

	entries, err := c.ListPresence(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "station-1", entries[0].DeviceID)
	require.True(t, entries[0].Monitoring)
	require.False(t, entries[0].UpdatedAt.IsZero())
}
