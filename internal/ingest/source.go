package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSourceUnavailable is returned by Start when the raw message source
// cannot be opened (broker down, auth rejected, spool dir inaccessible).
// Monitoring does not start; the host decides how to surface it.
var ErrSourceUnavailable = errors.New("ingestion source unavailable")

// Handler receives one raw dispatch message from the source.
type Handler func(rawText, senderID string, receivedAtMs int64)

// Source delivers raw dispatch messages into the monitor.
//
// Start begins delivery and returns only setup errors; Stop halts delivery
// and returns after no further handler call can happen.
type Source interface {
	Start(ctx context.Context, handler Handler) error
	Stop()
}

// gatewayMessage is the wire format the SMS gateway forwards.
type gatewayMessage struct {
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	ReceivedAtMs int64  `json:"received_at_ms"`
}

// decodeGatewayMessage parses a forwarded message, defaulting the receive
// time to now when the gateway did not stamp one.
func decodeGatewayMessage(payload []byte) (*gatewayMessage, error) {
	var msg gatewayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}

	if msg.Body == "" {
		return nil, errors.New("message without body")
	}

	if msg.ReceivedAtMs <= 0 {
		msg.ReceivedAtMs = time.Now().UnixMilli()
	}

	return &msg, nil
}
