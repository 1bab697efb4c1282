// Package supervisor owns the lifecycle of the worker process: spawn,
// readiness handshake, request routing and graceful-then-forced shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/codec"
	"github.com/touchline-analytics/touchline-host/internal/execution/events"
	"github.com/touchline-analytics/touchline-host/internal/execution/models"
	"github.com/touchline-analytics/touchline-host/internal/execution/router"
	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
)

const readBufferSize = 32 * 1024

type WorkerFactoryFn func(context.Context, worker.StartConfig, *zap.Logger) worker.Worker

type Params struct {
	// Context bounds the lifetime of spawned workers. Cancelling it
	// kills the worker. Defaults to context.Background.
	Context context.Context

	// Config is the config used to set up the supervisor and its workers.
	Config Config

	// Launcher resolves the worker start configuration on every start.
	// Defaults to a DefaultLauncher over Config.Launch.
	Launcher Launcher

	// WorkerFactory is a factory function to create a new worker. This
	// is called when the supervisor needs to create a new worker.
	WorkerFactory WorkerFactoryFn

	// Dispatcher receives worker events. Subscriptions on it survive
	// restarts. Defaults to a new dispatcher.
	Dispatcher *events.Dispatcher

	// NewID generates correlation ids. Defaults to random UUIDs.
	NewID func() string

	// OnStateChange is called after every transition, outside of any lock
	OnStateChange func(StateChange)

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

type Supervisor struct {
	mu      sync.Mutex
	state   State
	session *session

	readyInfo map[string]any
	lastExit  *worker.ExitEvent
	failure   error

	dispatcher   *events.Dispatcher
	decodeErrors atomic.Int64

	config        Config
	lifetime      context.Context
	launcher      Launcher
	workerFactory WorkerFactoryFn
	newID         func() string
	onStateChange func(StateChange)

	log *zap.Logger
}

// session holds everything tied to one spawned worker.
type session struct {
	worker worker.Worker
	router *router.Router
	codec  *codec.Codec

	// ready is closed on the readiness handshake
	ready     chan struct{}
	readyOnce sync.Once

	// readDone is closed when the stdout read loop returned
	readDone chan struct{}

	// exited is closed once the session is torn down completely
	exited chan struct{}

	// failure is the reason the session ended, guarded by Supervisor.mu
	failure error
}

func New(params Params) *Supervisor {
	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("supervisor")

	lifetime := params.Context
	if lifetime == nil {
		lifetime = context.Background()
	}

	config := params.Config.withDefaults()

	launcher := params.Launcher
	if launcher == nil {
		launcher = NewLauncher(config.Launch)
	}

	factory := params.WorkerFactory
	if factory == nil {
		factory = defaultWorkerFactory
	}

	dispatcher := params.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(log)
	}

	return &Supervisor{
		state:         StateNotStarted,
		dispatcher:    dispatcher,
		config:        config,
		lifetime:      lifetime,
		launcher:      launcher,
		workerFactory: factory,
		newID:         params.NewID,
		onStateChange: params.OnStateChange,
		log:           log,
	}
}

// Start spawns the worker and blocks until it announced readiness, failed,
// or ctx is done. It is accepted in NotStarted, Terminated and Failed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()

	if !s.state.Startable() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state: %s)", ErrAlreadyStarted, state)
	}

	sess := &session{
		ready:    make(chan struct{}),
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}

	s.session = sess
	s.readyInfo = nil
	s.failure = nil
	change := s.setStateLocked(StateStarting, nil)

	s.mu.Unlock()
	s.notify(change)

	startConfig, err := s.launcher.Resolve()
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			spawnErr = &SpawnError{Err: err}
		}

		s.abort(sess, spawnErr)
		return spawnErr
	}

	if err := s.spawn(ctx, sess, startConfig); err != nil {
		return err
	}

	timer := time.NewTimer(s.config.StartTimeout)
	defer timer.Stop()

	select {
	case <-sess.ready:
		return nil

	case <-sess.exited:
		return s.sessionFailure(sess)

	case <-timer.C:
		err := &ReadinessTimeoutError{Timeout: s.config.StartTimeout}
		s.fail(sess, err)

		_ = sess.worker.Kill()
		<-sess.exited

		return err

	case <-ctx.Done():
		err := fmt.Errorf("start cancelled: %w", ctx.Err())
		s.fail(sess, err)

		_ = sess.worker.Kill()
		<-sess.exited

		return err
	}
}

// spawn creates and starts the worker for sess. The lock is held so a
// concurrent Stop observes either no worker or a running one.
func (s *Supervisor) spawn(ctx context.Context, sess *session, config worker.StartConfig) error {
	s.mu.Lock()

	// Stop was called while the launch configuration was resolved
	if s.session != sess || s.state != StateStarting {
		s.mu.Unlock()
		s.abort(sess, ErrSupervisorStopped)
		return ErrSupervisorStopped
	}

	w := s.workerFactory(s.lifetime, config, s.log)

	if err := w.Start(ctx); err != nil {
		s.mu.Unlock()

		spawnErr := &SpawnError{Path: config.Cmd, Err: err}
		s.abort(sess, spawnErr)

		return spawnErr
	}

	sess.worker = w
	sess.codec = codec.New(codec.Params{
		OnError: func(*codec.ProtocolDecodeError) {
			s.decodeErrors.Add(1)
		},
		Log: s.log,
	})
	sess.router = router.New(router.Params{
		Write:          w.Write,
		NewID:          s.newID,
		DefaultTimeout: s.config.RequestTimeout,
		Log:            s.log,
	})

	go s.readLoop(sess)
	go s.monitor(sess)

	s.mu.Unlock()

	s.log.Info("worker spawned, waiting for readiness",
		zap.Int("pid", w.Pid()),
		zap.String("command", config.Cmd),
		zap.Duration("timeout", s.config.StartTimeout),
	)

	return nil
}

// Send issues a command with the default request timeout. It fails with a
// NotReadyError outside of StateReady without writing to the worker.
func (s *Supervisor) Send(ctx context.Context, command string, data map[string]any) (map[string]any, error) {
	return s.SendTimeout(ctx, command, data, 0)
}

// SendTimeout is Send with an explicit request timeout.
func (s *Supervisor) SendTimeout(
	ctx context.Context,
	command string,
	data map[string]any,
	timeout time.Duration,
) (map[string]any, error) {
	s.mu.Lock()

	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nil, &NotReadyError{State: state}
	}

	r := s.session.router

	s.mu.Unlock()

	return r.Do(ctx, command, data, timeout)
}

// Stop terminates the worker, escalating to a kill after the grace period
// or once ctx is done, and blocks until the exit is confirmed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()

	sess := s.session

	switch s.state {
	case StateNotStarted, StateTerminated:
		s.mu.Unlock()
		return nil

	case StateFailed, StateShuttingDown:
		s.mu.Unlock()
		<-sess.exited
		return nil
	}

	change := s.setStateLocked(StateShuttingDown, nil)
	w := sess.worker

	s.mu.Unlock()
	s.notify(change)

	// the launch configuration is still being resolved, Start aborts
	if w == nil {
		<-sess.exited
		return nil
	}

	if err := w.Terminate(); err != nil {
		s.log.Warn("failed to terminate worker", zap.Error(err))
	}

	grace := time.NewTimer(s.config.GracePeriod)
	defer grace.Stop()

	select {
	case <-sess.exited:
		return nil
	case <-grace.C:
		s.log.Warn("worker did not exit within grace period, killing",
			zap.Duration("grace_period", s.config.GracePeriod),
		)
	case <-ctx.Done():
		s.log.Warn("stop cancelled, killing worker", zap.Error(ctx.Err()))
	}

	if err := w.Kill(); err != nil {
		s.log.Warn("failed to kill worker", zap.Error(err))
	}

	// wait for the exit unconditionally
	<-sess.exited

	return nil
}

// Subscribe registers handler for worker events with the given name.
func (s *Supervisor) Subscribe(name string, handler events.Handler) *events.Subscription {
	return s.dispatcher.Subscribe(name, handler)
}

func (s *Supervisor) Dispatcher() *events.Dispatcher {
	return s.dispatcher
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Pid returns the worker pid while a worker is live, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Live() || s.session == nil || s.session.worker == nil {
		return 0
	}

	return s.session.worker.Pid()
}

// ReadyInfo returns the payload of the readiness handshake of the
// current worker.
func (s *Supervisor) ReadyInfo() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readyInfo
}

// LastExit returns the exit event of the most recent worker, if any.
func (s *Supervisor) LastExit() *worker.ExitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastExit
}

// Failure returns the reason for the last transition into StateFailed.
func (s *Supervisor) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failure
}

// Pending returns the number of outstanding requests.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.router == nil {
		return 0
	}

	return s.session.router.Pending()
}

// DecodeErrors returns the number of worker output lines that could not
// be decoded since the supervisor was created.
func (s *Supervisor) DecodeErrors() int64 {
	return s.decodeErrors.Load()
}

// MARK: - Stream handling

func (s *Supervisor) readLoop(sess *session) {
	defer close(sess.readDone)

	stdout := sess.worker.Stdout()
	buf := make([]byte, readBufferSize)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, env := range sess.codec.Feed(buf[:n]) {
				s.route(sess, env)
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return
		}

		streamErr := &StreamError{Err: err}
		s.log.Error("reading worker output failed", zap.Error(streamErr))

		s.fail(sess, streamErr)
		_ = sess.worker.Kill()

		return
	}
}

func (s *Supervisor) route(sess *session, env models.Envelope) {
	switch msg := env.(type) {
	case models.Response:
		if msg.IsReady() {
			s.markReady(sess, msg)
			return
		}

		if msg.CorrelationID == models.SystemCorrelationID {
			s.log.Warn("ignoring system message",
				zap.Bool("success", msg.Success),
				zap.String("error", msg.Error),
			)
			return
		}

		sess.router.OnResponse(msg)

	case models.Event:
		s.dispatcher.Dispatch(msg)

	case models.Request:
		s.log.Warn("dropping request sent by worker",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("command", msg.Command),
		)
	}
}

func (s *Supervisor) markReady(sess *session, res models.Response) {
	s.mu.Lock()

	if s.session != sess || s.state != StateStarting {
		state := s.state
		s.mu.Unlock()

		s.log.Warn("ignoring readiness signal", zap.Stringer("state", state))
		return
	}

	s.readyInfo = res.Data
	change := s.setStateLocked(StateReady, nil)
	sess.readyOnce.Do(func() { close(sess.ready) })

	s.mu.Unlock()
	s.notify(change)
}

// monitor waits for the worker to exit and tears the session down.
func (s *Supervisor) monitor(sess *session) {
	exit, _ := sess.worker.Wait(context.Background())

	// give the read loop a chance to consume trailing output, then
	// close the pipe in case a grandchild keeps it open
	select {
	case <-sess.readDone:
	case <-time.After(s.config.DrainTimeout):
		_ = sess.worker.Stdout().Close()
		<-sess.readDone
	}

	if n := sess.codec.Buffered(); n > 0 {
		s.log.Warn("discarding incomplete line from worker", zap.Int("bytes", n))
	}
	sess.codec.Reset()

	s.mu.Lock()

	var change *StateChange

	if s.session == sess {
		switch s.state {
		case StateShuttingDown:
			sess.failure = ErrSupervisorStopped
			change = s.setStateLocked(StateTerminated, ErrSupervisorStopped)

		case StateStarting, StateReady:
			err := newProcessExitError(exit)
			sess.failure = err
			s.failure = err
			change = s.setStateLocked(StateFailed, err)
		}

		s.lastExit = &exit
	}

	if sess.failure == nil {
		sess.failure = ErrSupervisorStopped
	}

	reason := sess.failure

	s.mu.Unlock()
	s.notify(change)

	sess.router.Close(reason)

	s.log.Info("worker session ended",
		zap.Stringer("exit", exit),
		zap.NamedError("reason", reason),
	)

	close(sess.exited)
}

// MARK: - State

// fail moves a live session to StateFailed. It is a no-op if the session
// is stale or already shutting down.
func (s *Supervisor) fail(sess *session, err error) {
	s.mu.Lock()

	if s.session != sess || (s.state != StateStarting && s.state != StateReady) {
		s.mu.Unlock()
		return
	}

	sess.failure = err
	s.failure = err
	change := s.setStateLocked(StateFailed, err)

	s.mu.Unlock()
	s.notify(change)
}

// abort ends a session that never got a running worker.
func (s *Supervisor) abort(sess *session, err error) {
	s.mu.Lock()

	var change *StateChange

	if s.session == sess {
		sess.failure = err

		if s.state == StateShuttingDown {
			change = s.setStateLocked(StateTerminated, ErrSupervisorStopped)
		} else {
			s.failure = err
			change = s.setStateLocked(StateFailed, err)
		}
	}

	close(sess.exited)

	s.mu.Unlock()
	s.notify(change)
}

func (s *Supervisor) sessionFailure(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.failure != nil {
		return sess.failure
	}

	return ErrSupervisorStopped
}

func (s *Supervisor) setStateLocked(to State, err error) *StateChange {
	from := s.state
	s.state = to

	return &StateChange{From: from, To: to, Err: err}
}

func (s *Supervisor) notify(change *StateChange) {
	if change == nil {
		return
	}

	log := s.log.With(
		zap.Stringer("from", change.From),
		zap.Stringer("state", change.To),
	)

	if change.To == StateFailed {
		log.Error("worker failed", zap.Error(change.Err))
	} else {
		log.Info("state changed")
	}

	if s.onStateChange != nil {
		s.onStateChange(*change)
	}
}

func defaultWorkerFactory(
	ctx context.Context,
	config worker.StartConfig,
	log *zap.Logger,
) worker.Worker {
	return worker.NewProcessWorker(ctx, config, log)
}
