// Package effects defines the side-effect boundary of the alarm engine.
//
// The engine emits Request/AckRequest bundles; an Executor runs them (sound,
// vibration, notifications). Executor failures are logged and never reach
// back into engine state, so a broken speaker cannot wedge the alarm.
package effects
