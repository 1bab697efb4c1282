package router

import (
	"context"
	"time"
)

// Call is an outstanding request. It is resolved exactly once, by a
// response, a timeout or cancellation.
type Call struct {
	ID       string
	Command  string
	IssuedAt time.Time
	Timeout  time.Duration

	timer *time.Timer
	done  chan struct{}

	data map[string]any
	err  error
}

func newCall(id, command string, timeout time.Duration) *Call {
	return &Call{
		ID:       id,
		Command:  command,
		IssuedAt: time.Now(),
		Timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a resolved call. It must only be
// called after Done is closed.
func (c *Call) Result() (map[string]any, error) {
	return c.data, c.err
}

// Wait blocks until the call is resolved or ctx is done. Giving up on
// ctx leaves the call pending.
func (c *Call) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve must only be called by the goroutine that removed the call
// from the pending table.
func (c *Call) resolve(data map[string]any, err error) {
	if c.timer != nil {
		c.timer.Stop()
	}

	c.data = data
	c.err = err

	close(c.done)
}
