// Package send implements the larmvakt-send command, which publishes
// drill events to the relay for rehearsals and connectivity checks.
package send
