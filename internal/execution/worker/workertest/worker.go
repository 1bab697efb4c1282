// Package workertest provides an in-memory worker for exercising the
// protocol stack without spawning processes.
package workertest

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/touchline-analytics/touchline-host/internal/execution/codec"
	"github.com/touchline-analytics/touchline-host/internal/execution/models"
	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
)

var ErrNoRequest = errors.New("no request received")

const fakePid = 4242

// Worker is a scripted worker. Frames written by the host are recorded and
// can be consumed with NextRequest. Output is injected with Emit.
type Worker struct {
	// StartErr, if set, is returned by Start
	StartErr error

	// IgnoreTerminate makes Terminate a no-op, as if the process
	// trapped the termination signal
	IgnoreTerminate bool

	mu         sync.Mutex
	started    bool
	written    [][]byte
	terminated int
	killed     int

	frames chan []byte

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	done     chan struct{}
	exit     worker.ExitEvent
	exitOnce sync.Once
}

var _ worker.Worker = (*Worker)(nil)

func New() *Worker {
	r, w := io.Pipe()

	return &Worker{
		frames:  make(chan []byte, 4096),
		stdoutR: r,
		stdoutW: w,
		done:    make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if w.StartErr != nil {
		return w.StartErr
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return worker.ErrWorkerAlreadyStarted
	}

	w.started = true

	return nil
}

func (w *Worker) Write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return worker.ErrWorkerNotStarted
	}

	if w.exited() {
		return worker.ErrWorkerExited
	}

	frame := append([]byte(nil), b...)
	w.written = append(w.written, frame)

	select {
	case w.frames <- frame:
	default:
	}

	return nil
}

func (w *Worker) Stdout() io.ReadCloser {
	return w.stdoutR
}

func (w *Worker) Terminate() error {
	w.mu.Lock()
	w.terminated++
	ignore := w.IgnoreTerminate
	w.mu.Unlock()

	if !ignore {
		w.ExitSignal(syscall.SIGTERM)
	}

	return nil
}

func (w *Worker) Kill() error {
	w.mu.Lock()
	w.killed++
	w.mu.Unlock()

	w.ExitSignal(syscall.SIGKILL)

	return nil
}

func (w *Worker) Wait(ctx context.Context) (worker.ExitEvent, error) {
	select {
	case <-ctx.Done():
		return worker.ExitEvent{}, ctx.Err()
	case <-w.done:
		return w.exit, nil
	}
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Pid() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return 0
	}

	return fakePid
}

// MARK: - Scripting

// Emit writes raw bytes to the worker stdout. It blocks until the host
// consumed them.
func (w *Worker) Emit(b []byte) error {
	_, err := w.stdoutW.Write(b)
	return err
}

// EmitEnvelope encodes env and writes it to stdout.
func (w *Worker) EmitEnvelope(env models.Envelope) error {
	frame, err := codec.Encode(env)
	if err != nil {
		return err
	}

	return w.Emit(frame)
}

// Ready sends the readiness handshake.
func (w *Worker) Ready() error {
	return w.EmitEnvelope(models.NewReadyResponse(nil))
}

// Respond sends a successful response to req.
func (w *Worker) Respond(req models.Request, data map[string]any) error {
	return w.EmitEnvelope(models.Response{
		CorrelationID: req.CorrelationID,
		Success:       true,
		Data:          data,
	})
}

// Fail sends a failed response to req.
func (w *Worker) Fail(req models.Request, message string) error {
	return w.EmitEnvelope(models.Response{
		CorrelationID: req.CorrelationID,
		Success:       false,
		Error:         message,
	})
}

// NextRequest waits for the next frame written by the host and decodes it.
func (w *Worker) NextRequest(timeout time.Duration) (models.Request, error) {
	select {
	case frame := <-w.frames:
		env, err := codec.Decode(trimNewline(frame))
		if err != nil {
			return models.Request{}, err
		}

		req, ok := env.(models.Request)
		if !ok {
			return models.Request{}, errors.New("frame is not a request")
		}

		return req, nil
	case <-time.After(timeout):
		return models.Request{}, ErrNoRequest
	}
}

// Serve answers every request with handler until the worker exits.
// A nil reply sends nothing.
func (w *Worker) Serve(handler func(models.Request) models.Envelope) {
	go func() {
		for {
			select {
			case <-w.done:
				return
			case frame := <-w.frames:
				env, err := codec.Decode(trimNewline(frame))
				if err != nil {
					continue
				}

				req, ok := env.(models.Request)
				if !ok {
					continue
				}

				if reply := handler(req); reply != nil {
					_ = w.EmitEnvelope(reply)
				}
			}
		}
	}()
}

// Echo is a Serve handler replying with the request payload.
func Echo(req models.Request) models.Envelope {
	return models.Response{
		CorrelationID: req.CorrelationID,
		Success:       true,
		Data:          req.Data,
	}
}

// Exit ends the fake process with the given exit code.
func (w *Worker) Exit(code int) {
	w.finish(worker.ExitEvent{Code: &code})
}

// ExitSignal ends the fake process as if it was killed by sig.
func (w *Worker) ExitSignal(sig syscall.Signal) {
	signo := int(sig)
	w.finish(worker.ExitEvent{Signal: &signo})
}

func (w *Worker) finish(evt worker.ExitEvent) {
	w.exitOnce.Do(func() {
		w.mu.Lock()
		w.exit = evt
		w.mu.Unlock()

		_ = w.stdoutW.Close()
		close(w.done)
	})
}

// Written returns every frame written by the host so far.
func (w *Worker) Written() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([][]byte(nil), w.written...)
}

func (w *Worker) Terminated() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.terminated
}

func (w *Worker) Killed() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.killed
}

func (w *Worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}

	return b
}
