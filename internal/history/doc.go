// Package history keeps the append-only log of all alarms seen by a device.
//
// Appends are idempotent by event id, test alarms live in a separate bucket,
// and the store can be seeded from a relay snapshot or a local file.
package history
