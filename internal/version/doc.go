// Package version exposes larmvakt build metadata.
//
// Version, Commit and BuildTime are injected via Go ldflags and default to
// placeholder values for local builds. Short and Full render the version
// string for CLI output and logs.
package version
