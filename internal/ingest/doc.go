// Package ingest delivers raw dispatch messages into the monitor.
//
// Two sources exist: MQTTSource subscribes to a topic where an SMS gateway
// pushes forwarded messages, and MailboxSource polls a spool directory on a
// fixed interval for deployments without push delivery. Both satisfy the
// Source interface and guarantee no delivery after Stop returns.
package ingest
