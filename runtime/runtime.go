package runtime

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/touchline-analytics/touchline-host/internal/execution/events"
	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
)

// Runtime is the host-side facade over the worker. It owns exactly one
// supervisor and is safe for concurrent use.
type Runtime interface {
	// Initialize starts the worker unless it is already ready. Concurrent
	// callers share one start attempt. It may be retried after a failure.
	Initialize(context.Context) error

	// Command sends one command to the worker and returns its payload.
	Command(ctx context.Context, command string, data map[string]any) (map[string]any, error)

	// Subscribe registers a handler for worker events. Subscriptions
	// survive worker restarts.
	Subscribe(name string, handler events.Handler) *events.Subscription

	// Cleanup stops the worker.
	Cleanup(context.Context) error

	// Paths returns the resolved worker executable and data paths.
	Paths() (supervisor.Paths, error)

	// Status returns a snapshot of the worker state.
	Status() Status
}

// Config is the runtime configuration.
type Config struct {
	// Autostart starts the worker together with the host
	Autostart bool `conf:"autostart"`

	// Worker is the supervisor configuration
	Worker supervisor.Config `conf:"worker"`
}

func DefaultConfig() Config {
	return Config{
		Autostart: true,
		Worker:    supervisor.DefaultConfig(),
	}
}

// Status is a snapshot of the worker state.
type Status struct {
	State        supervisor.State `json:"state"`
	Pid          int              `json:"pid,omitempty"`
	Ready        map[string]any   `json:"ready,omitempty"`
	Pending      int              `json:"pending"`
	DecodeErrors int64            `json:"decodeErrors"`
	Error        string           `json:"error,omitempty"`
	LastExit     *ExitStatus      `json:"lastExit,omitempty"`
}

// ExitStatus describes how the last worker exited.
type ExitStatus struct {
	Code   *int `json:"code,omitempty"`
	Signal *int `json:"signal,omitempty"`
}

// WorkerRuntime is a runtime backed by a supervised worker process.
type WorkerRuntime struct {
	supervisor *supervisor.Supervisor
	launcher   *supervisor.DefaultLauncher

	group singleflight.Group

	log *zap.Logger
}

var _ Runtime = (*WorkerRuntime)(nil)

// Params defines the dependencies for the runtime.
type Params struct {
	fx.In

	// Context bounds the lifetime of the worker process
	Context context.Context

	// Config is the config for the runtime
	Config Config

	// OnStateChange observes supervisor transitions
	OnStateChange func(supervisor.StateChange) `optional:"true"`

	// Log is the logger to use for the runtime
	Log *zap.Logger
}

// New creates a new runtime.
func New(params Params) *WorkerRuntime {
	launcher := supervisor.NewLauncher(params.Config.Worker.Launch)

	sup := supervisor.New(supervisor.Params{
		Context:       params.Context,
		Config:        params.Config.Worker,
		Launcher:      launcher,
		OnStateChange: params.OnStateChange,
		Log:           params.Log,
	})

	return NewWithSupervisor(sup, launcher, params.Log)
}

// NewWithSupervisor creates a runtime over an existing supervisor.
func NewWithSupervisor(
	sup *supervisor.Supervisor,
	launcher *supervisor.DefaultLauncher,
	log *zap.Logger,
) *WorkerRuntime {
	if log == nil {
		log = zap.NewNop()
	}

	return &WorkerRuntime{
		supervisor: sup,
		launcher:   launcher,
		log:        log.Named("runtime"),
	}
}

// NewLifecycleRuntime creates a runtime bound to the fx lifecycle. The
// worker is started on start if autostart is set, and always stopped
// on stop.
func NewLifecycleRuntime(params Params, lc fx.Lifecycle) Runtime {
	r := New(params)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !params.Config.Autostart {
				return nil
			}

			// a failed start is retryable through Initialize, the
			// host keeps running
			if err := r.Initialize(ctx); err != nil {
				r.log.Error("failed to start worker", zap.Error(err))
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return r.Cleanup(ctx)
		},
	})

	return r
}

func (r *WorkerRuntime) Initialize(ctx context.Context) error {
	if r.supervisor.State() == supervisor.StateReady {
		return nil
	}

	// the shared attempt must not die with the first caller's context
	startCtx := context.WithoutCancel(ctx)

	_, err, shared := r.group.Do("initialize", func() (any, error) {
		switch state := r.supervisor.State(); {
		case state == supervisor.StateReady:
			return nil, nil
		case state == supervisor.StateShuttingDown:
			// let a pending cleanup finish before starting again
			if err := r.supervisor.Stop(startCtx); err != nil {
				return nil, err
			}
		}

		r.log.Info("initializing worker")

		return nil, r.supervisor.Start(startCtx)
	})

	if shared {
		r.log.Debug("joined pending initialization")
	}

	if errors.Is(err, supervisor.ErrAlreadyStarted) && r.supervisor.State() == supervisor.StateReady {
		return nil
	}

	return err
}

func (r *WorkerRuntime) Command(
	ctx context.Context,
	command string,
	data map[string]any,
) (map[string]any, error) {
	return r.supervisor.Send(ctx, command, data)
}

// Send implements tasks.Sender.
func (r *WorkerRuntime) Send(
	ctx context.Context,
	command string,
	data map[string]any,
) (map[string]any, error) {
	return r.Command(ctx, command, data)
}

func (r *WorkerRuntime) Subscribe(name string, handler events.Handler) *events.Subscription {
	return r.supervisor.Subscribe(name, handler)
}

func (r *WorkerRuntime) Cleanup(ctx context.Context) error {
	r.log.Info("cleaning up worker")

	return r.supervisor.Stop(ctx)
}

func (r *WorkerRuntime) Paths() (supervisor.Paths, error) {
	return r.launcher.Paths()
}

func (r *WorkerRuntime) Status() Status {
	status := Status{
		State:        r.supervisor.State(),
		Pid:          r.supervisor.Pid(),
		Ready:        r.supervisor.ReadyInfo(),
		Pending:      r.supervisor.Pending(),
		DecodeErrors: r.supervisor.DecodeErrors(),
	}

	if status.State == supervisor.StateFailed {
		if err := r.supervisor.Failure(); err != nil {
			status.Error = err.Error()
		}
	}

	if exit := r.supervisor.LastExit(); exit != nil {
		status.LastExit = &ExitStatus{
			Code:   exit.Code,
			Signal: exit.Signal,
		}
	}

	return status
}
