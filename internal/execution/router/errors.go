package router

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRouterClosed           = errors.New("router closed")
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")
)

// UnknownCommandError is the message used when a worker reports a failure
// without an error text.
const UnknownCommandError = "unknown error"

// CommandError is returned when the worker answered a request with
// success=false.
type CommandError struct {
	Command       string
	CorrelationID string
	Message       string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %s", e.Command, e.Message)
}

// RequestTimeoutError is returned when no response arrived in time.
type RequestTimeoutError struct {
	Command       string
	CorrelationID string
	Timeout       time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("command %s (%s) timed out after %s", e.Command, e.CorrelationID, e.Timeout)
}
