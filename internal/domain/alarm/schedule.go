package alarm

import "time"

// minutesPerDay is the number of minutes in a calendar day.
const minutesPerDay = 24 * 60

// Window is a recurring daily time-of-day interval during which local alarm
// activation is permitted. Both bounds are inclusive minutes of the day
// (0..1439). When Start > End the window wraps past midnight.
type Window struct {
	// StartMinute is the first minute of the day inside the window.
	StartMinute int `yaml:"start_minute" json:"startMinute"`
	// EndMinute is the last minute of the day inside the window.
	EndMinute int `yaml:"end_minute" json:"endMinute"`
}

// Clone returns a copy of the window.
func (w *Window) Clone() *Window {
	if w == nil {
		return nil
	}

	cloned := *w

	return &cloned
}

// Valid reports whether both bounds fall inside a calendar day.
func (w *Window) Valid() bool {
	return w.StartMinute >= 0 && w.StartMinute < minutesPerDay &&
		w.EndMinute >= 0 && w.EndMinute < minutesPerDay
}

// Contains reports whether the given minute of the day falls inside the
// window. A nil window means scheduling is disabled and every minute passes.
func (w *Window) Contains(minuteOfDay int) bool {
	if w == nil {
		return true
	}

	if w.StartMinute <= w.EndMinute {
		return minuteOfDay >= w.StartMinute && minuteOfDay <= w.EndMinute
	}

	// Window crosses midnight.
	return minuteOfDay >= w.StartMinute || minuteOfDay <= w.EndMinute
}

// ContainsTime reports whether the wall-clock time falls inside the window.
func (w *Window) ContainsTime(t time.Time) bool {
	return w.Contains(MinuteOfDay(t))
}

// MinuteOfDay converts a wall-clock time to its minute of the day.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
