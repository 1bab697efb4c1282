package supervisor

import (
	"time"

	"github.com/touchline-analytics/touchline-host/internal/execution/router"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultGracePeriod  = 5 * time.Second
	DefaultDrainTimeout = 500 * time.Millisecond
)

type Config struct {
	// StartTimeout bounds the wait for the readiness handshake
	StartTimeout time.Duration `conf:"start_timeout"`

	// RequestTimeout is the default per-request response window. It is
	// independent of StartTimeout.
	RequestTimeout time.Duration `conf:"request_timeout"`

	// GracePeriod is how long Stop waits after the termination
	// signal before killing the worker
	GracePeriod time.Duration `conf:"grace_period"`

	// DrainTimeout is how long trailing stdout is read after exit
	DrainTimeout time.Duration `conf:"drain_timeout"`

	// Launch describes how the worker executable is located and started
	Launch LaunchConfig `conf:"launch"`
}

func DefaultConfig() Config {
	return Config{
		StartTimeout:   DefaultStartTimeout,
		RequestTimeout: router.DefaultTimeout,
		GracePeriod:    DefaultGracePeriod,
		DrainTimeout:   DefaultDrainTimeout,
		Launch:         DefaultLaunchConfig(),
	}
}

// withDefaults fills unset durations.
func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = router.DefaultTimeout
	}

	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}

	return c
}
