// Package engine implements the per-device alarm state machine.
//
// The engine decides whether a classified event activates the local alarm,
// applying the only-total filter, test-mode separation and schedule gating,
// and owns the idle/active transitions with their side-effect requests.
package engine
