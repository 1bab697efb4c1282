package call

import (
	"io"
	"time"
)

type Config struct {
	// Command is the worker command to invoke
	Command string

	// Data is the command payload
	Data map[string]any

	// StatusCommand polls the task id returned by Command until the task
	// completes. Disabled when empty.
	StatusCommand string

	// PollInterval is the initial task polling interval
	PollInterval time.Duration

	// Events are printed while the call is in flight
	Events []string

	// Output receives the result and events, defaults to stdout
	Output io.Writer
}
