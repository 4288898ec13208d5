package alarm

import "time"

// Type classifies the severity of a dispatch.
type Type string

const (
	// TypeTotal is a full mobilization dispatch ("TOTALLARM").
	TypeTotal Type = "TOTALLARM"
	// TypeRegular is an ordinary dispatch with a named category.
	TypeRegular Type = "REGULAR"
)

// Event is a single classified dispatch notification.
// Events are immutable once created; every mutation-looking helper returns a copy.
type Event struct {
	// ID uniquely identifies the event across the shared relay store.
	// Locally created events carry a provisional ID until the relay confirms it.
	ID string `json:"id"`
	// Timestamp is the event time extracted from the message payload,
	// falling back to ingestion time when the payload carries none.
	Timestamp time.Time `json:"timestamp"`
	// Station is the free-text origin label from the message ("LARM " line).
	Station string `json:"station"`
	// Category describes the dispatch category.
	Category string `json:"category"`
	// Type is the dispatch severity.
	Type Type `json:"type"`
	// IsTotalAlarm mirrors Type == TypeTotal, kept denormalized for filters.
	IsTotalAlarm bool `json:"isTotalAlarm"`
	// SourceDeviceID names the device that first classified or published
	// the event. Empty for purely local events that were never published.
	SourceDeviceID string `json:"sourceDeviceId,omitempty"`
	// TestMode marks events generated under test/simulation settings.
	// Test events never mix with production alarms.
	TestMode bool `json:"testMode"`
	// RawMessage is the original text, retained for audit and re-parsing.
	RawMessage string `json:"rawMessage,omitempty"`
}

// Clone returns a copy of the event to avoid leaking internal references.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}

	cloned := *e

	return &cloned
}

// Normalize re-derives the denormalized IsTotalAlarm flag from Type.
// Events arriving over the wire are normalized before use so the
// invariant IsTotalAlarm == (Type == TypeTotal) always holds.
func (e *Event) Normalize() {
	e.IsTotalAlarm = e.Type == TypeTotal
}
