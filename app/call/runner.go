package call

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/models"
	"github.com/touchline-analytics/touchline-host/internal/execution/tasks"
	"github.com/touchline-analytics/touchline-host/runtime"
)

type RunnerParams struct {
	fx.In

	Context context.Context
	Config  Config
	Runtime runtime.Runtime

	Log *zap.Logger
}

// Runner performs a single command invocation against the worker.
type Runner struct {
	ctx     context.Context
	config  Config
	runtime runtime.Runtime

	outLock sync.Mutex
	out     io.Writer

	log *zap.Logger
}

func NewRunner(params RunnerParams) *Runner {
	out := params.Config.Output
	if out == nil {
		out = os.Stdout
	}

	return &Runner{
		ctx:     params.Context,
		config:  params.Config,
		runtime: params.Runtime,
		out:     out,
		log:     params.Log,
	}
}

// NewLifecycleRunner runs the invocation once the app has started and
// shuts the app down with exit code 1 if it failed.
func NewLifecycleRunner(params RunnerParams, lc fx.Lifecycle, sd fx.Shutdowner) *Runner {
	runner := NewRunner(params)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := runner.Run(runner.ctx); err != nil {
					runner.log.Error("call failed", zap.Error(err))
					code = 1
				}

				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					runner.log.Error("failed to shutdown", zap.Error(err))
				}
			}()
			return nil
		},
	})
	return runner
}

func (r *Runner) Run(ctx context.Context) error {
	log := r.log.With(zap.String("command", r.config.Command))

	if err := r.runtime.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	for _, name := range r.config.Events {
		sub := r.runtime.Subscribe(name, r.printEvent)
		defer sub.Unsubscribe()
	}

	log.Debug("sending command")

	result, err := r.runtime.Command(ctx, r.config.Command, r.config.Data)
	if err != nil {
		return err
	}

	if r.config.StatusCommand != "" {
		if result, err = r.waitForTask(ctx, result); err != nil {
			return err
		}
	}

	return r.print(result)
}

func (r *Runner) waitForTask(ctx context.Context, started map[string]any) (map[string]any, error) {
	taskID, err := tasks.TaskID(started)
	if err != nil {
		return nil, err
	}

	log := r.log.With(zap.String("task_id", taskID))
	log.Info("waiting for task")

	return tasks.WaitForCompletion(ctx, tasks.SenderFunc(r.runtime.Command), tasks.Poll{
		StatusCommand: r.config.StatusCommand,
		TaskID:        taskID,
		Interval:      r.config.PollInterval,
		OnProgress: func(status tasks.Status) {
			if status.Progress != nil {
				log.Info("task progress", zap.Float64("progress", *status.Progress))
			}
		},
		Log: r.log,
	})
}

func (r *Runner) printEvent(evt models.Event) error {
	return r.print(evt)
}

func (r *Runner) print(v any) error {
	r.outLock.Lock()
	defer r.outLock.Unlock()

	enc := json.NewEncoder(r.out)
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}
