// Package alarm contains core domain types for the dispatch alarm business logic.
//
// It defines Event (a classified dispatch notification), Window (the daily
// activation schedule), and Settings (the monitoring configuration) with Clone
// helpers to avoid leaking internal references.
package alarm
