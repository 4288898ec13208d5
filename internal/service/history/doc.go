// Package history implements the larmvakt-history command, a read-only
// listing of recorded alarms grouped by day.
package history
