package effects

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/larmkedjan/larmvakt/internal/logger"
)

// ErrNoSoundCommand indicates playback was requested without a configured command.
var ErrNoSoundCommand = errors.New("no sound command configured")

// PlayerExecutor plays the alarm sound by launching a configured external
// player command (e.g. `paplay alarm.wav` or a notify wrapper). The command
// is started asynchronously and killed on acknowledgement, so a wedged
// player never blocks the engine.
type PlayerExecutor struct {
	// command is the player invocation, argv style.
	command []string

	// mu guards the running process handle.
	mu sync.Mutex
	// running is the currently playing process, nil when silent.
	running *exec.Cmd
}

// NewPlayerExecutor returns an executor launching the given player command.
func NewPlayerExecutor(command []string) *PlayerExecutor {
	return &PlayerExecutor{
		command: command,
	}
}

// Activate starts the alarm sound, replacing any sound already playing.
// A re-triggered alarm restarts playback with the new event.
func (e *PlayerExecutor) Activate(ctx context.Context, req *Request) error {
	logger.InfoKV(ctx, "Alarm side effects requested",
		"title", req.Notification.Title,
		"body", req.Notification.Body,
		"total_alarm", req.IsTotalAlarm)

	if !req.PlaySound {
		return nil
	}

	if len(e.command) == 0 {
		return ErrNoSoundCommand
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	//nolint:gosec // The command comes from the operator's own settings file.
	cmd := exec.Command(e.command[0], e.command[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}

	e.running = cmd

	// Reap the process so it does not linger as a zombie.
	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// Acknowledge stops the alarm sound and logs the acknowledge notification.
func (e *PlayerExecutor) Acknowledge(ctx context.Context, req *AckRequest) error {
	logger.InfoKV(ctx, "Alarm acknowledged",
		"acknowledged_by", req.AcknowledgedBy,
		"title", req.Notification.Title)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	return nil
}

// stopLocked kills the running player, if any. Callers must hold mu.
func (e *PlayerExecutor) stopLocked() {
	if e.running == nil {
		return
	}

	if e.running.Process != nil {
		_ = e.running.Process.Kill()
	}

	e.running = nil
}
