package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
)

var (
	ErrAlreadyStarted    = errors.New("supervisor already started")
	ErrSupervisorStopped = errors.New("supervisor stopped")
)

// SpawnError means the worker executable could not be located or launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to spawn worker: %v", e.Err)
	}

	return fmt.Sprintf("failed to spawn worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ReadinessTimeoutError means the worker did not announce readiness in time.
type ReadinessTimeoutError struct {
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("worker not ready after %s", e.Timeout)
}

// ProcessExitError means the worker exited while it was expected to run.
type ProcessExitError struct {
	Code   *int
	Signal *int

	// Stderr is the tail of the worker's stderr output
	Stderr string
}

func newProcessExitError(evt worker.ExitEvent) *ProcessExitError {
	return &ProcessExitError{
		Code:   evt.Code,
		Signal: evt.Signal,
		Stderr: evt.Stderr,
	}
}

func (e *ProcessExitError) Error() string {
	status := worker.ExitEvent{Code: e.Code, Signal: e.Signal}.String()

	if line := lastLine(e.Stderr); line != "" {
		return fmt.Sprintf("worker exited unexpectedly (%s): %s", status, line)
	}

	return fmt.Sprintf("worker exited unexpectedly (%s)", status)
}

// NotReadyError is returned by Send outside of StateReady.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("worker not ready (state: %s)", e.State)
}

// StreamError means reading the worker output failed at the transport level.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("worker stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}

	return strings.TrimSpace(s)
}
