package events_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/events"
	"github.com/touchline-analytics/touchline-host/internal/execution/models"
)

func event(name string) models.Event {
	return models.Event{Type: "event", Name: name, Data: map[string]any{"n": 1.0}}
}

func TestDispatch_SubscriptionOrder(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		d.Subscribe("progress", func(models.Event) error {
			calls = append(calls, name)
			return nil
		})
	}

	n := d.Dispatch(event("progress"))

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDispatch_OnlyMatchingName(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var got []models.Event
	d.Subscribe("a", func(evt models.Event) error {
		got = append(got, evt)
		return nil
	})

	assert.Zero(t, d.Dispatch(event("b")))
	assert.Equal(t, 1, d.Dispatch(event("a")))

	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"n": 1.0}, got[0].Data)
}

func TestDispatch_PanicAndErrorAreIsolated(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var delivered []string

	d.Subscribe("x", func(models.Event) error {
		panic("boom")
	})
	d.Subscribe("x", func(models.Event) error {
		delivered = append(delivered, "after-panic")
		return errors.New("handler failed")
	})
	d.Subscribe("x", func(models.Event) error {
		delivered = append(delivered, "after-error")
		return nil
	})

	assert.NotPanics(t, func() {
		d.Dispatch(event("x"))
	})
	assert.Equal(t, []string{"after-panic", "after-error"}, delivered)

	// state is intact for later dispatches
	assert.Equal(t, 3, d.Dispatch(event("x")))
}

func TestUnsubscribe_RemovesExactlyOneHandler(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var calls []string
	handler := func(name string) events.Handler {
		return func(models.Event) error {
			calls = append(calls, name)
			return nil
		}
	}

	d.Subscribe("x", handler("a"))
	sub := d.Subscribe("x", handler("b"))
	d.Subscribe("x", handler("c"))

	sub.Unsubscribe()
	d.Dispatch(event("x"))

	assert.Equal(t, []string{"a", "c"}, calls)
	assert.Equal(t, "x", sub.Name())
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	sub := d.Subscribe("x", func(models.Event) error { return nil })
	d.Subscribe("x", func(models.Event) error { return nil })

	sub.Unsubscribe()
	sub.Unsubscribe()
	d.Unsubscribe(sub)
	d.Unsubscribe(nil)

	assert.Equal(t, 1, d.Count("x"))
}

func TestUnsubscribe_DuringDispatch(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var calls []string
	var second *events.Subscription

	d.Subscribe("x", func(models.Event) error {
		calls = append(calls, "first")
		second.Unsubscribe()
		return nil
	})
	second = d.Subscribe("x", func(models.Event) error {
		calls = append(calls, "second")
		return nil
	})

	// the running dispatch keeps its snapshot
	d.Dispatch(event("x"))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	d.Dispatch(event("x"))
	assert.Equal(t, []string{"first"}, calls)
}

func TestSubscribe_DuringDispatchDoesNotDeadlock(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	d.Subscribe("x", func(models.Event) error {
		d.Subscribe("y", func(models.Event) error { return nil })
		return nil
	})

	d.Dispatch(event("x"))
	assert.Equal(t, 1, d.Count("y"))
}

func TestDispatch_Wildcard(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var calls []string
	d.Subscribe(events.Wildcard, func(evt models.Event) error {
		calls = append(calls, "*:"+evt.Name)
		return nil
	})
	d.Subscribe("x", func(evt models.Event) error {
		calls = append(calls, "x")
		return nil
	})

	assert.Equal(t, 2, d.Dispatch(event("x")))
	assert.Equal(t, 1, d.Dispatch(event("y")))

	assert.Equal(t, []string{"x", "*:x", "*:y"}, calls)
}

func TestDispatch_Concurrent(t *testing.T) {
	d := events.NewDispatcher(zap.NewNop())

	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := d.Subscribe("x", func(models.Event) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			})
			sub.Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(event("x"))
		}()
	}
	wg.Wait()

	assert.Zero(t, d.Count("x"))
}
