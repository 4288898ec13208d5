package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	repo "github.com/larmkedjan/larmvakt/internal/repository/history"
)

// DayGroup is the alarm history of one calendar date,
// ordered newest first within the date.
type DayGroup struct {
	// Date is the calendar date in "2006-01-02" form, local time.
	Date string
	// Events are the alarms of that date, newest first.
	Events []*domain.Event
}

// Store is the append-only, queryable log of all alarms seen by this device.
// Appends are idempotent by event id; events are never mutated or removed.
type Store struct {
	// repo persists snapshots across restarts; may be nil for memory-only use.
	repo repo.Repository

	// mu protects the event index.
	mu sync.RWMutex
	// byID indexes every appended event by its id.
	byID map[string]*domain.Event
}

// NewStore creates a history store, loading the persisted snapshot when a
// repository is provided and a snapshot exists.
func NewStore(ctx context.Context, repository repo.Repository) (*Store, error) {
	s := &Store{
		repo: repository,
		byID: make(map[string]*domain.Event),
	}

	if repository == nil {
		return s, nil
	}

	events, err := repository.Load(ctx)
	switch {
	case err == nil:
		for _, e := range events {
			s.byID[e.ID] = e.Clone()
		}
	case errors.Is(err, repo.ErrNotFound):
		// Start empty.
	default:
		return nil, fmt.Errorf("load history: %w", err)
	}

	return s, nil
}

// Append records an event. Re-appending an already-known id is a no-op, so
// relay redelivery cannot create duplicate rows. It reports whether the
// event was new; a persistence failure keeps the in-memory entry and is
// returned for logging.
func (s *Store) Append(ctx context.Context, e *domain.Event) (bool, error) {
	if e == nil || e.ID == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.byID[e.ID]; seen {
		return false, nil
	}

	s.byID[e.ID] = e.Clone()

	return true, s.persistLocked(ctx)
}

// Seed backfills the store with a batch of events, typically a relay
// snapshot. Known ids are skipped. It returns the number of new events.
func (s *Store) Seed(ctx context.Context, events []*domain.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0

	for _, e := range events {
		if e == nil || e.ID == "" {
			continue
		}

		if _, seen := s.byID[e.ID]; seen {
			continue
		}

		s.byID[e.ID] = e.Clone()
		added++
	}

	if added == 0 {
		return 0, nil
	}

	return added, s.persistLocked(ctx)
}

// Count returns the number of distinct events recorded.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID)
}

// ListGroupedByDate returns production alarms grouped by calendar date,
// newest date first and newest event first within each date.
// Test-mode events are excluded; use ListTestEvents for those.
func (s *Store) ListGroupedByDate() []DayGroup {
	events := s.snapshot(false)
	sortNewestFirst(events)

	var groups []DayGroup

	for _, e := range events {
		date := e.Timestamp.Local().Format("2006-01-02")
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DayGroup{Date: date})
		}

		last := &groups[len(groups)-1]
		last.Events = append(last.Events, e)
	}

	return groups
}

// ListTestEvents returns the test-mode bucket, newest first.
// Test alarms are never merged with the production listing.
func (s *Store) ListTestEvents() []*domain.Event {
	events := s.snapshot(true)
	sortNewestFirst(events)

	return events
}

// snapshot copies events with the given test-mode flag under the read lock.
func (s *Store) snapshot(testMode bool) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*domain.Event, 0, len(s.byID))

	for _, e := range s.byID {
		if e.TestMode == testMode {
			events = append(events, e.Clone())
		}
	}

	return events
}

// persistLocked saves the full snapshot. Callers must hold mu.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	events := make([]*domain.Event, 0, len(s.byID))
	for _, e := range s.byID {
		events = append(events, e)
	}

	sortNewestFirst(events)

	if err := s.repo.Save(ctx, events); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}

	return nil
}

// sortNewestFirst orders events by timestamp descending,
// tie-breaking by id ascending for determinism.
func sortNewestFirst(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}

		return events[i].ID < events[j].ID
	})
}
