// Package history implements persistence for the local alarm history.
//
// The FileRepository stores and loads the event list as JSON on disk and
// exposes a Repository interface that the history store depends on.
package history
