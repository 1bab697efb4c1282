package worker

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrKillTimeout          = errors.New("kill timeout")
	ErrEmptyCommand         = errors.New("empty command")
	ErrWorkerNotStarted     = errors.New("worker not started")
	ErrWorkerAlreadyStarted = errors.New("worker already started")
	ErrWorkerExited         = errors.New("worker exited")
)

// StderrTailSize is the number of trailing stderr bytes kept for diagnostics.
const StderrTailSize = 64 * 1024

// stderrDrainTimeout bounds how long the exit event waits for stderr to hit
// EOF once the process is gone. Grandchildren may keep the pipe open.
const stderrDrainTimeout = 500 * time.Millisecond

type StartConfig struct {
	// Cmd is the path or name of the binary to execute
	Cmd string `conf:"cmd"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Args is the list of arguments to pass to the command
	Args []string `conf:"args"`

	// Env is a map of environment variables set on top
	// of the environment of the host process
	Env map[string]string `conf:"env"`
}

type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int

	// Stderr is the tail of the stderr output of the process
	Stderr string
}

func (e ExitEvent) String() string {
	switch {
	case e.Signal != nil:
		return fmt.Sprintf("signal %d", *e.Signal)
	case e.Code != nil:
		return fmt.Sprintf("exit code %d", *e.Code)
	default:
		return "unknown exit status"
	}
}

// Success reports whether the process exited with code 0.
func (e ExitEvent) Success() bool {
	return e.Code != nil && *e.Code == 0
}
