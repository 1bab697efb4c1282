// Package router correlates requests sent to the worker with the responses
// it sends back. Responses may arrive in any order.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/codec"
	"github.com/touchline-analytics/touchline-host/internal/execution/models"
)

const DefaultTimeout = 30 * time.Second

type Params struct {
	// Write delivers one encoded frame to the worker
	Write func([]byte) error

	// NewID generates correlation ids. Defaults to random UUIDs.
	NewID func() string

	// DefaultTimeout applies to requests sent without a timeout
	DefaultTimeout time.Duration

	Log *zap.Logger
}

type Router struct {
	mu      sync.Mutex
	pending map[string]*Call
	closed  error

	write          func([]byte) error
	newID          func() string
	defaultTimeout time.Duration

	log *zap.Logger
}

func New(params Params) *Router {
	newID := params.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	timeout := params.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Router{
		pending:        make(map[string]*Call),
		write:          params.Write,
		newID:          newID,
		defaultTimeout: timeout,
		log:            log.Named("router"),
	}
}

// Send registers a request and writes it to the worker. The returned call
// resolves with the response, a RequestTimeoutError or a cancellation.
func (r *Router) Send(command string, data map[string]any, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	r.mu.Lock()

	if r.closed != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrRouterClosed, r.closed)
	}

	id := r.newID()
	if _, ok := r.pending[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, id)
	}

	call := newCall(id, command, timeout)
	r.pending[id] = call

	// arm the timer before writing, a response can't arrive any earlier
	call.timer = time.AfterFunc(timeout, func() {
		r.expire(call)
	})

	r.mu.Unlock()

	frame, err := codec.Encode(models.Request{
		CorrelationID: id,
		Command:       command,
		Data:          data,
	})
	if err == nil {
		err = r.write(frame)
	}

	if err != nil {
		if r.take(id, call) {
			call.resolve(nil, err)
		}
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	r.log.Debug("request sent",
		zap.String("correlation_id", id),
		zap.String("command", command),
		zap.Duration("timeout", timeout),
	)

	return call, nil
}

// Do sends a request and waits for its outcome. If ctx is done first, the
// request is abandoned and a late response is dropped.
func (r *Router) Do(
	ctx context.Context,
	command string,
	data map[string]any,
	timeout time.Duration,
) (map[string]any, error) {
	call, err := r.Send(command, data, timeout)
	if err != nil {
		return nil, err
	}

	res, err := call.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		if r.take(call.ID, call) {
			call.resolve(nil, ctx.Err())
		}
	}

	return res, err
}

// OnResponse resolves the request matching res. Unknown correlation ids
// are logged and dropped. It reports whether a request was resolved.
func (r *Router) OnResponse(res models.Response) bool {
	r.mu.Lock()
	call, ok := r.pending[res.CorrelationID]
	if ok {
		delete(r.pending, res.CorrelationID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn("dropping response for unknown request",
			zap.String("correlation_id", res.CorrelationID),
			zap.Bool("success", res.Success),
		)
		return false
	}

	r.log.Debug("response received",
		zap.String("correlation_id", call.ID),
		zap.String("command", call.Command),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", time.Since(call.IssuedAt)),
	)

	if res.Success {
		call.resolve(res.Data, nil)
		return true
	}

	message := res.Error
	if message == "" {
		message = UnknownCommandError
	}

	call.resolve(nil, &CommandError{
		Command:       call.Command,
		CorrelationID: call.ID,
		Message:       message,
	})

	return true
}

// CancelAll fails every pending request with reason and returns how many
// were cancelled. The router stays usable.
func (r *Router) CancelAll(reason error) int {
	r.mu.Lock()
	calls := make([]*Call, 0, len(r.pending))
	for id, call := range r.pending {
		calls = append(calls, call)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, call := range calls {
		call.resolve(nil, reason)
	}

	if len(calls) > 0 {
		r.log.Info("cancelled pending requests",
			zap.Int("count", len(calls)),
			zap.Error(reason),
		)
	}

	return len(calls)
}

// Close cancels every pending request with reason and rejects later sends.
func (r *Router) Close(reason error) int {
	if reason == nil {
		reason = ErrRouterClosed
	}

	r.mu.Lock()
	if r.closed == nil {
		r.closed = reason
	}
	r.mu.Unlock()

	return r.CancelAll(reason)
}

// Pending returns the number of outstanding requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

func (r *Router) expire(call *Call) {
	if !r.take(call.ID, call) {
		return
	}

	r.log.Warn("request timed out",
		zap.String("correlation_id", call.ID),
		zap.String("command", call.Command),
		zap.Duration("timeout", call.Timeout),
	)

	call.resolve(nil, &RequestTimeoutError{
		Command:       call.Command,
		CorrelationID: call.ID,
		Timeout:       call.Timeout,
	})
}

// take removes call from the pending table if it is still registered under
// id. The caller that succeeds owns resolving it.
func (r *Router) take(id string, call *Call) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending[id] != call {
		return false
	}

	delete(r.pending, id)

	return true
}
