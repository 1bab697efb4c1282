package worker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a child process speaking a line protocol over its stdio.
type Worker interface {
	// Start spawns the process. It fails if the worker was started before.
	Start(context.Context) error

	// Write writes raw bytes to the process stdin. Concurrent writes
	// never interleave.
	Write([]byte) error

	// Stdout returns the read end of the process stdout. It is nil
	// until the worker is started.
	Stdout() io.ReadCloser

	// Terminate asks the process to stop. It does not wait.
	Terminate() error

	// Kill stops the process forcefully. It does not wait.
	Kill() error

	// Wait blocks until the process exited and returns its exit event.
	// It may be called any number of times.
	Wait(context.Context) (ExitEvent, error)

	// Done is closed once the exit event is available.
	Done() <-chan struct{}

	// Pid returns the process id, or 0 if the worker isn't started.
	Pid() int
}

type ProcessWorker struct {
	config   StartConfig
	lifetime context.Context

	processLock sync.Mutex
	process     *proc

	writeLock sync.Mutex

	stderr *stderrSink

	done chan struct{}
	exit ExitEvent

	log *zap.Logger
}

var _ Worker = (*ProcessWorker)(nil)

// NewProcessWorker creates a worker for the given command. Cancelling
// lifetime kills the process.
func NewProcessWorker(
	lifetime context.Context,
	config StartConfig,
	log *zap.Logger,
) *ProcessWorker {
	log = log.Named("worker")

	return &ProcessWorker{
		config:   config,
		lifetime: lifetime,
		stderr:   newStderrSink(StderrTailSize, log.Named("stderr")),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Start starts the worker process.
func (w *ProcessWorker) Start(ctx context.Context) error {
	w.log.With(
		zap.String("command", w.config.Cmd),
		zap.Strings("args", w.config.Args),
		zap.String("cwd", w.config.Cwd),
		zap.Any("env", w.config.Env),
	).Debug("starting worker process")

	// synchronize access to the process
	w.processLock.Lock()
	defer w.processLock.Unlock()

	// return if the worker is already started
	if w.process != nil {
		return ErrWorkerAlreadyStarted
	}

	// exit early if either context is already cancelled
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	if err := w.lifetime.Err(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	process, err := startProc(w.config, w.log)
	if err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	w.process = process

	w.log.Info("worker process started", zap.Int("pid", process.pid))

	// read from stderr in a separate goroutine
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)

		// the read end is closed below once the process is gone
		_, _ = io.Copy(w.stderr, process.stderr)
		w.stderr.Flush()
	}()

	// wait for the process to terminate and publish the exit event
	go func() {
		<-process.done

		select {
		case <-stderrDone:
		case <-time.After(stderrDrainTimeout):
			_ = process.stderr.Close()
			<-stderrDone
		}

		_ = process.stderr.Close()

		w.exit = getExitEvent(process.err, w.stderr.String())

		w.log.Info("worker process exited",
			zap.Int("pid", process.pid),
			zap.Stringer("status", w.exit),
		)

		close(w.done)
	}()

	// wait for the lifetime context to be cancelled,
	// and kill the process.
	go func() {
		select {
		case <-process.done:
			// the process has terminated, do nothing
		case <-w.lifetime.Done():
			// kill the process without further ado
			_ = process.Kill()
		}
	}()

	return nil
}

// Write writes a frame to the stdin of the worker process.
func (w *ProcessWorker) Write(b []byte) error {
	process := w.acquireProcess()
	if process == nil {
		return ErrWorkerNotStarted
	}

	w.writeLock.Lock()
	defer w.writeLock.Unlock()

	if process.exited() {
		return ErrWorkerExited
	}

	if _, err := process.stdin.Write(b); err != nil {
		return fmt.Errorf("write to worker stdin: %w", err)
	}

	return nil
}

func (w *ProcessWorker) Stdout() io.ReadCloser {
	if process := w.acquireProcess(); process != nil {
		return process.stdout
	}

	return nil
}

// Wait waits for the worker process to exit. The method blocks until the process
// exits. The method returns an ExitEvent object that contains the exit status of
// the process. If the process is already terminated, the method returns immediately.
func (w *ProcessWorker) Wait(ctx context.Context) (ExitEvent, error) {
	if w.acquireProcess() == nil {
		return ExitEvent{}, ErrWorkerNotStarted
	}

	select {
	case <-ctx.Done():
		return ExitEvent{}, ctx.Err()
	case <-w.done:
		return w.exit, nil
	}
}

// WaitFor waits for the worker process to exit. It blocks until the process exits
// or the timeout is reached. The method returns an ExitEvent that contains the exit
// status. If the process is already terminated, the method returns immediately.
func (w *ProcessWorker) WaitFor(
	ctx context.Context,
	deadline time.Duration,
) (ExitEvent, error) {
	var waitCtx context.Context
	var cancel context.CancelFunc

	if deadline <= 0 {
		waitCtx, cancel = context.WithCancel(ctx)
	} else {
		waitCtx, cancel = context.WithTimeout(ctx, deadline)
	}

	defer cancel()

	evt, err := w.Wait(waitCtx)
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return evt, ErrKillTimeout
	}

	return evt, err
}

func (w *ProcessWorker) Done() <-chan struct{} {
	return w.done
}

// Kill sends a SIGKILL signal to the worker process group.
// The method returns immediately, without waiting for the process to stop.
func (w *ProcessWorker) Kill() error {
	if process := w.acquireProcess(); process != nil {
		return process.Kill()
	}

	return ErrWorkerNotStarted
}

// Terminate closes stdin and sends a SIGTERM signal to the worker process group.
// The method returns immediately, without waiting for the process to stop.
func (w *ProcessWorker) Terminate() error {
	if process := w.acquireProcess(); process != nil {
		return process.Terminate()
	}

	return ErrWorkerNotStarted
}

func (w *ProcessWorker) Pid() int {
	if process := w.acquireProcess(); process != nil {
		return process.pid
	}

	return 0
}

// acquireProcess returns the worker process. The method is thread-safe.
func (w *ProcessWorker) acquireProcess() *proc {
	w.processLock.Lock()
	defer w.processLock.Unlock()

	return w.process
}
