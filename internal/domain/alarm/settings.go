package alarm

// DeviceMode says whether a device ingests raw dispatch messages itself or
// only receives alarms relayed by other devices.
type DeviceMode string

const (
	// ModeActive devices ingest and classify raw dispatch messages.
	ModeActive DeviceMode = "active"
	// ModePassive devices only react to alarms from the relay.
	ModePassive DeviceMode = "passive"
)

// Settings is the monitoring configuration read by the engine on every
// submitted event. Instances are treated as immutable; updates replace the
// whole object atomically.
type Settings struct {
	// OnlyTotalAlarm discards every non-total dispatch when set.
	OnlyTotalAlarm bool `yaml:"only_total_alarm" json:"onlyTotalAlarm"`
	// TestMode routes ingestion through the low-confidence test classifier
	// and keeps test events separated from production alarms.
	TestMode bool `yaml:"test_mode" json:"testMode"`
	// Schedule limits local alarm activation to a daily window.
	// Nil disables schedule gating.
	Schedule *Window `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	// Mode selects active ingestion or passive relay-only operation.
	Mode DeviceMode `yaml:"device_mode" json:"deviceMode"`
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Schedule = s.Schedule.Clone()

	return &cloned
}
