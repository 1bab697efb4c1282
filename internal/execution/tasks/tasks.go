// Package tasks polls long-running worker tasks until they complete. The
// worker exposes tasks as a start command returning a task id and a status
// command reporting progress; polling is driven entirely by the caller.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second

	defaultFailureMessage = "task failed"
)

var ErrMissingTaskID = errors.New("missing task_id")

// Sender issues one command to the worker.
type Sender interface {
	Send(ctx context.Context, command string, data map[string]any) (map[string]any, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, command string, data map[string]any) (map[string]any, error)

func (f SenderFunc) Send(ctx context.Context, command string, data map[string]any) (map[string]any, error) {
	return f(ctx, command, data)
}

// Status is the payload of a task status command.
type Status struct {
	TaskID    string         `mapstructure:"task_id"`
	IsRunning bool           `mapstructure:"is_running"`
	Completed bool           `mapstructure:"completed"`
	Progress  *float64       `mapstructure:"progress"`
	Result    map[string]any `mapstructure:"result"`

	// Extra holds the fields not mapped above
	Extra map[string]any `mapstructure:",remain"`
}

// Succeeded reports whether the task completed with result.success set.
func (s Status) Succeeded() bool {
	ok, _ := s.Result["success"].(bool)
	return s.Completed && ok
}

// ErrorMessage returns result.error_message, if any.
func (s Status) ErrorMessage() string {
	msg, _ := s.Result["error_message"].(string)
	return msg
}

// DecodeStatus converts a status payload into a Status.
func DecodeStatus(data map[string]any) (Status, error) {
	var status Status

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &status,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return status, err
	}

	if err := decoder.Decode(data); err != nil {
		return status, fmt.Errorf("decode task status: %w", err)
	}

	return status, nil
}

// TaskID extracts the task id from the response of a start command.
func TaskID(data map[string]any) (string, error) {
	switch id := data["task_id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}

	return "", ErrMissingTaskID
}

// TaskFailedError is returned when a task completed without success.
type TaskFailedError struct {
	TaskID  string
	Message string
	Result  map[string]any
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

type Poll struct {
	// StatusCommand is the command reporting the task status,
	// e.g. "detections.get_task_status"
	StatusCommand string

	TaskID string

	// Interval is the delay before the first and between later polls
	Interval time.Duration

	// MaxInterval caps the delay when Multiplier grows it
	MaxInterval time.Duration

	// Multiplier scales the delay after every poll. Values below 1
	// keep the delay constant.
	Multiplier float64

	// OnProgress receives every status, including the final one
	OnProgress func(Status)

	Log *zap.Logger
}

// WaitForCompletion polls the task until it completed and returns its
// result. A failed status command ends polling with that error.
func WaitForCompletion(ctx context.Context, sender Sender, poll Poll) (map[string]any, error) {
	if poll.TaskID == "" {
		return nil, ErrMissingTaskID
	}

	log := poll.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tasks").With(
		zap.String("task_id", poll.TaskID),
		zap.String("command", poll.StatusCommand),
	)

	interval := poll.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		data, err := sender.Send(ctx, poll.StatusCommand, map[string]any{"task_id": poll.TaskID})
		if err != nil {
			return nil, fmt.Errorf("poll task %s: %w", poll.TaskID, err)
		}

		status, err := DecodeStatus(data)
		if err != nil {
			return nil, err
		}

		if poll.OnProgress != nil {
			poll.OnProgress(status)
		}

		if status.Completed {
			if status.Succeeded() {
				log.Debug("task completed")
				return status.Result, nil
			}

			message := status.ErrorMessage()
			if message == "" {
				message = defaultFailureMessage
			}

			return nil, &TaskFailedError{
				TaskID:  poll.TaskID,
				Message: message,
				Result:  status.Result,
			}
		}

		interval = nextInterval(interval, poll)
		timer.Reset(interval)
	}
}

func nextInterval(current time.Duration, poll Poll) time.Duration {
	if poll.Multiplier <= 1 {
		return current
	}

	next := time.Duration(float64(current) * poll.Multiplier)
	if poll.MaxInterval > 0 && next > poll.MaxInterval {
		next = poll.MaxInterval
	}

	return next
}
