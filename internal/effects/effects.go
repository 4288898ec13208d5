package effects

import (
	"context"

	"github.com/larmkedjan/larmvakt/internal/logger"

	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
)

// Request is the side-effect bundle emitted when an alarm activates.
type Request struct {
	// Event is the alarm that triggered the request.
	Event *domain.Event
	// PlaySound asks the executor to start the alarm sound.
	PlaySound bool
	// Vibrate asks for vibration where the platform supports it.
	Vibrate bool
	// Notification is the notification to post.
	Notification Notification
	// IsTotalAlarm selects the high-severity presentation.
	IsTotalAlarm bool
}

// AckRequest is the side-effect bundle emitted on acknowledgement.
type AckRequest struct {
	// AcknowledgedBy names the device or user confirming the alarm.
	AcknowledgedBy string
	// Notification is the acknowledge notification to post.
	Notification Notification
}

// Notification describes a user-facing notification.
type Notification struct {
	Title string
	Body  string
	// Sticky notifications stay until explicitly dismissed.
	Sticky bool
}

// Executor runs the local side effects of alarm activation and
// acknowledgement. Execution failures never influence engine state;
// the engine logs returned errors and moves on.
type Executor interface {
	Activate(ctx context.Context, req *Request) error
	Acknowledge(ctx context.Context, req *AckRequest) error
}

// LogExecutor writes side-effect requests to the log only.
// It backs headless deployments and tests.
type LogExecutor struct{}

// NewLogExecutor returns an executor that only logs.
func NewLogExecutor() *LogExecutor {
	return &LogExecutor{}
}

// Activate logs the activation request.
func (e *LogExecutor) Activate(ctx context.Context, req *Request) error {
	logger.InfoKV(ctx, "Alarm side effects requested",
		"title", req.Notification.Title,
		"body", req.Notification.Body,
		"play_sound", req.PlaySound,
		"vibrate", req.Vibrate,
		"total_alarm", req.IsTotalAlarm)

	return nil
}

// Acknowledge logs the acknowledgement request.
func (e *LogExecutor) Acknowledge(ctx context.Context, req *AckRequest) error {
	logger.InfoKV(ctx, "Alarm acknowledged",
		"acknowledged_by", req.AcknowledgedBy,
		"title", req.Notification.Title)

	return nil
}
