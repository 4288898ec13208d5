package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
)

// Markers of the dispatch message format sent by the dispatch center.
const (
	// headerMarker identifies a message as a dispatch notification.
	headerMarker = "Larminformation från VRR Ledningscentral"
	// stationPrefix starts the line carrying the station label.
	stationPrefix = "LARM "
	// totalMarker and mobilizationMarker both signal a full mobilization.
	totalMarker        = "TOTALLARM"
	mobilizationMarker = "FRI INRYCKNING"
	// categoryMarker starts the line carrying the dispatch category name.
	categoryMarker = "Larmkategori namn :"
	// timeMarker starts the line carrying the dispatch timestamp.
	timeMarker = "TID :"
)

const (
	// TotalCategory is the canonical category for full mobilization dispatches.
	TotalCategory = "TOTALLARM - Fri inryckning"
	// TestCategory marks low-confidence alarms produced by the test path.
	TestCategory = "TEST-LARM"
)

// timestampLayouts are tried in order when parsing the TID line.
// Dispatch timestamps are local naive time without a zone.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// Classifier parses raw dispatch text messages into alarm events.
// It performs no I/O and is safe for concurrent use.
type Classifier struct {
	// trustedSender is the sender identifier real dispatches must come from.
	trustedSender string
}

// New returns a classifier accepting messages from the given trusted sender.
func New(trustedSender string) *Classifier {
	return &Classifier{
		trustedSender: trustedSender,
	}
}

// IsDispatch reports whether the message looks like a dispatch notification
// from the trusted sender, without fully parsing it.
func (c *Classifier) IsDispatch(raw, sender string) bool {
	return strings.Contains(sender, c.trustedSender) &&
		strings.Contains(raw, headerMarker)
}

// Classify parses a raw text message into an alarm event.
//
// It returns nil when the sender is not trusted, the header marker is
// missing, or the required fields (station, category) cannot be extracted.
// A timestamp that fails to parse falls back to receivedAt instead of
// failing the whole classification.
func (c *Classifier) Classify(raw, sender string, receivedAt time.Time) *domain.Event {
	if !c.IsDispatch(raw, sender) {
		return nil
	}

	var (
		station      string
		category     string
		alarmType    = domain.TypeRegular
		isTotalAlarm bool
		timestamp    = receivedAt
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, stationPrefix) {
			station = strings.TrimSpace(strings.TrimPrefix(line, stationPrefix))
		}

		upper := strings.ToUpper(line)
		if strings.Contains(upper, totalMarker) || strings.Contains(upper, mobilizationMarker) {
			alarmType = domain.TypeTotal
			isTotalAlarm = true
			category = TotalCategory
		} else if strings.Contains(line, categoryMarker) {
			category = strings.TrimSpace(line[strings.Index(line, categoryMarker)+len(categoryMarker):])
		}

		if strings.HasPrefix(line, timeMarker) {
			timestamp = parseDispatchTime(strings.TrimSpace(strings.TrimPrefix(line, timeMarker)), receivedAt)
		}
	}

	// An incomplete message is discarded, not retried.
	if station == "" || category == "" {
		return nil
	}

	return &domain.Event{
		ID:           uuid.NewString(),
		Timestamp:    timestamp,
		Station:      station,
		Category:     category,
		Type:         alarmType,
		IsTotalAlarm: isTotalAlarm,
		RawMessage:   raw,
	}
}

// ClassifyTest is the development-only path: any message containing the word
// "larm" (case-insensitive), regardless of sender, becomes a low-confidence
// regular alarm flagged as a test event. Callers must only invoke it when
// test mode is enabled, and never combine it with Classify for one message.
func (c *Classifier) ClassifyTest(raw, sender string, receivedAt time.Time) *domain.Event {
	if !strings.Contains(strings.ToLower(raw), "larm") {
		return nil
	}

	_ = sender // Any sender qualifies in test mode.

	return &domain.Event{
		ID:         uuid.NewString(),
		Timestamp:  receivedAt,
		Station:    "",
		Category:   TestCategory,
		Type:       domain.TypeRegular,
		TestMode:   true,
		RawMessage: raw,
	}
}

// FormatEvent renders a single-line human-readable summary of an event,
// used by notifications and the history CLI.
func FormatEvent(e *domain.Event) string {
	if e == nil {
		return "<invalid alarm>"
	}

	severity := "Utryckning"
	if e.IsTotalAlarm {
		severity = totalMarker
	}

	station := e.Station
	if station == "" {
		station = "<unknown station>"
	}

	return fmt.Sprintf("%s | %s | %s | %s",
		severity, e.Category, station, e.Timestamp.Format("2006-01-02 15:04:05"))
}

// parseDispatchTime parses the TID payload, falling back to the ingestion
// time when no layout matches.
func parseDispatchTime(s string, fallback time.Time) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}

	return fallback
}
