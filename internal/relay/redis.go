package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/larmkedjan/larmvakt/internal/config"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
	"github.com/larmkedjan/larmvakt/internal/logger"
)

// ErrRelayUnavailable is returned when the shared event store cannot be
// reached. Callers continue operating locally; the next publish attempt
// retries the connection state as-is.
var ErrRelayUnavailable = errors.New("relay unavailable")

// Client synchronizes alarm events across devices through a Redis-backed
// ordered store: a hash of events by id, a sorted set indexed by timestamp,
// and a Pub/Sub channel for push delivery. The client owns the only
// connection to the store.
type Client struct {
	// rdb is the Redis connection; nil when the client is offline.
	rdb *redis.Client
	// stream is the key prefix under which events are stored.
	stream string
	// callTimeout bounds individual store operations.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*options)

type options struct {
	password    string
	db          int
	stream      string
	callTimeout time.Duration
}

// WithPassword authenticates against the Redis server.
func WithPassword(password string) Option {
	return func(o *options) {
		o.password = password
	}
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithStream overrides the key prefix for stored events.
func WithStream(stream string) Option {
	return func(o *options) {
		if stream != "" {
			o.stream = stream
		}
	}
}

// WithCallTimeout sets a default timeout for store operations.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.callTimeout = timeout
		}
	}
}

// New connects to the shared event store. An empty address, or a store that
// does not answer the initial ping, yields an offline client: Publish fails
// fast with ErrRelayUnavailable and subscriptions deliver a single empty
// batch, while the rest of the system keeps operating locally.
func New(ctx context.Context, addr string, opts ...Option) *Client {
	o := &options{
		stream:      config.DefaultRelayStream,
		callTimeout: config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	client := &Client{
		stream:      o.stream,
		callTimeout: o.callTimeout,
	}

	if addr == "" {
		logger.Warn(ctx, "No relay address configured, running offline")

		return client
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: o.password,
		DB:       o.db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.ErrorKV(ctx, "Relay unreachable, running offline", "addr", addr, "error", err)
		_ = rdb.Close()

		return client
	}

	client.rdb = rdb

	return client
}

// Offline reports whether the client runs without a store connection.
func (c *Client) Offline() bool {
	return c.rdb == nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}

	return c.rdb.Close()
}

// eventsKey is the hash holding event JSON by id.
func (c *Client) eventsKey() string { return c.stream + ":events" }

// indexKey is the sorted set of ids scored by timestamp milliseconds.
func (c *Client) indexKey() string { return c.stream + ":index" }

// feedChannel is the Pub/Sub channel carrying newly published events.
func (c *Client) feedChannel() string { return c.stream + ":feed" }

// presenceKey holds a device's presence entry with TTL.
func (c *Client) presenceKey(deviceID string) string {
	return c.stream + ":presence:" + deviceID
}

// Publish writes the event to the shared store and announces it on the feed.
// The event's provisional id is confirmed (or assigned when empty); retrying
// with the same id is safe and will not duplicate the event or its delivery.
func (c *Client) Publish(ctx context.Context, e *domain.Event) (string, error) {
	if c.Offline() {
		return "", ErrRelayUnavailable
	}

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	stored.Normalize()

	payload, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	created, err := c.rdb.HSetNX(callCtx, c.eventsKey(), stored.ID, payload).Result()
	if err != nil {
		return "", fmt.Errorf("store event: %v: %w", err, ErrRelayUnavailable)
	}

	// Re-publishing a known id confirms it without a second delivery.
	if !created {
		return stored.ID, nil
	}

	if err = c.rdb.ZAdd(callCtx, c.indexKey(), &redis.Z{
		Score:  float64(stored.Timestamp.UnixMilli()),
		Member: stored.ID,
	}).Err(); err != nil {
		return "", fmt.Errorf("index event: %v: %w", err, ErrRelayUnavailable)
	}

	if err = c.rdb.Publish(callCtx, c.feedChannel(), payload).Err(); err != nil {
		// The event is stored; subscribers will still see it on backfill.
		logger.WarnKV(ctx, "Feed publish failed", "event_id", stored.ID, "error", err)
	}

	return stored.ID, nil
}

// FetchHistory returns a point-in-time snapshot of the most recent events,
// newest first, tie-broken by id ascending.
func (c *Client) FetchHistory(ctx context.Context, limit int) ([]*domain.Event, error) {
	if c.Offline() {
		return nil, ErrRelayUnavailable
	}

	if limit <= 0 {
		return nil, nil
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	ids, err := c.rdb.ZRevRange(callCtx, c.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read index: %v: %w", err, ErrRelayUnavailable)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.rdb.HMGet(callCtx, c.eventsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %v: %w", err, ErrRelayUnavailable)
	}

	events := make([]*domain.Event, 0, len(rows))

	for _, row := range rows {
		payload, ok := row.(string)
		if !ok {
			continue
		}

		e, err := decodeEvent([]byte(payload))
		if err != nil {
			logger.WarnKV(ctx, "Skipping undecodable relay event", "error", err)
			continue
		}

		events = append(events, e)
	}

	sortNewestFirst(events)

	return events, nil
}

// SubscribeRecent delivers the most recent limit events as an initial batch,
// then incremental updates as other devices publish. Already-delivered ids
// are suppressed, so transport redelivery cannot double-trigger a device.
// The returned function cancels the subscription and waits for the delivery
// goroutine to stop.
func (c *Client) SubscribeRecent(
	ctx context.Context,
	limit int,
	onBatch func(events []*domain.Event),
) (func(), error) {
	if c.Offline() {
		onBatch(nil)

		return func() {}, nil
	}

	initial, err := c.FetchHistory(ctx, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(initial))
	for _, e := range initial {
		seen[e.ID] = struct{}{}
	}

	onBatch(initial)

	pubsub := c.rdb.Subscribe(ctx, c.feedChannel())

	// Force the subscription to establish before returning so no published
	// event can slip between the backfill and the feed.
	if _, err = pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, fmt.Errorf("subscribe feed: %v: %w", err, ErrRelayUnavailable)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for msg := range pubsub.Channel() {
			e, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				logger.WarnKV(ctx, "Skipping undecodable feed event", "error", err)
				continue
			}

			if _, dup := seen[e.ID]; dup {
				continue
			}

			seen[e.ID] = struct{}{}

			onBatch([]*domain.Event{e})
		}
	}()

	unsubscribe := func() {
		_ = pubsub.Close()
		wg.Wait()
	}

	return unsubscribe, nil
}

// Presence is a device's liveness entry on the relay.
type Presence struct {
	// DeviceID identifies the device.
	DeviceID string `json:"deviceId"`
	// DeviceName is the human-readable label.
	DeviceName string `json:"deviceName,omitempty"`
	// Monitoring reports whether the device is actively ingesting.
	Monitoring bool `json:"monitoring"`
	// UpdatedAt is when the entry was last refreshed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetPresence refreshes this device's presence entry with a TTL; devices
// that stop refreshing simply expire from the listing.
func (c *Client) SetPresence(ctx context.Context, p *Presence, ttl time.Duration) error {
	if c.Offline() {
		return ErrRelayUnavailable
	}

	entry := *p
	entry.UpdatedAt = time.Now()

	payload, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err = c.rdb.Set(callCtx, c.presenceKey(p.DeviceID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store presence: %v: %w", err, ErrRelayUnavailable)
	}

	return nil
}

// ListPresence enumerates the devices currently present on the relay.
func (c *Client) ListPresence(ctx context.Context) ([]*Presence, error) {
	if c.Offline() {
		return nil, ErrRelayUnavailable
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	var (
		entries []*Presence
		cursor  uint64
	)

	for {
		keys, next, err := c.rdb.Scan(callCtx, cursor, c.presenceKey("*"), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan presence: %v: %w", err, ErrRelayUnavailable)
		}

		for _, key := range keys {
			payload, err := c.rdb.Get(callCtx, key).Result()
			if err != nil {
				// Entry may have expired between scan and get.
				continue
			}

			var p Presence
			if err = json.Unmarshal([]byte(payload), &p); err != nil {
				continue
			}

			entries = append(entries, &p)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeviceID < entries[j].DeviceID
	})

	return entries, nil
}

// callContext bounds a store operation with the configured timeout.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// decodeEvent unmarshals a stored event and restores its invariants.
func decodeEvent(payload []byte) (*domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	if e.ID == "" {
		return nil, errors.New("event without id")
	}

	e.Normalize()

	return &e, nil
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
