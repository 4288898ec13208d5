// Package relay synchronizes alarm events across devices through a shared
// Redis-backed ordered store.
//
// Publish confirms a unique id and is safe to retry; SubscribeRecent delivers
// a recent backfill followed by push updates with per-id deduplication.
// When the store is unreachable the client degrades to an offline mode and
// the rest of the system keeps operating locally.
package relay
