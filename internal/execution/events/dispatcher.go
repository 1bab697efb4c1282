// Package events fans out worker events to subscribers registered by
// event name.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/models"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// Handler receives an event. A returned error or a panic is logged and
// does not affect other handlers.
type Handler func(models.Event) error

type entry struct {
	id      uint64
	handler Handler
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64

	log *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		handlers: make(map[string][]entry),
		log:      log.Named("events"),
	}
}

// Subscribe appends handler to the list for name. Handlers for the same
// name run in subscription order.
func (d *Dispatcher) Subscribe(name string, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	d.handlers[name] = append(d.handlers[name], entry{id: id, handler: handler})

	return &Subscription{
		dispatcher: d,
		name:       name,
		id:         id,
	}
}

// Unsubscribe removes the handler registered by sub. Removing it twice is
// a no-op.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	sub.Unsubscribe()
}

func (d *Dispatcher) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[name]
	for i, e := range list {
		if e.id != id {
			continue
		}

		// copy so in-flight dispatches keep iterating their snapshot
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)

		if len(next) == 0 {
			delete(d.handlers, name)
		} else {
			d.handlers[name] = next
		}

		return
	}
}

// Dispatch invokes the handlers for evt.Name, then the wildcard handlers,
// synchronously and in order. It returns the number of handlers invoked.
func (d *Dispatcher) Dispatch(evt models.Event) int {
	d.mu.RLock()
	named := d.handlers[evt.Name]
	wildcard := d.handlers[Wildcard]
	d.mu.RUnlock()

	if evt.Name == Wildcard {
		wildcard = nil
	}

	if len(named) == 0 && len(wildcard) == 0 {
		d.log.Debug("no subscribers for event", zap.String("event", evt.Name))
		return 0
	}

	for _, e := range named {
		d.invoke(e, evt)
	}

	for _, e := range wildcard {
		d.invoke(e, evt)
	}

	return len(named) + len(wildcard)
}

// Count returns the number of handlers subscribed to name.
func (d *Dispatcher) Count(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.handlers[name])
}

func (d *Dispatcher) invoke(e entry, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked",
				zap.String("event", evt.Name),
				zap.Uint64("subscription", e.id),
				zap.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()

	if err := e.handler(evt); err != nil {
		d.log.Error("event handler failed",
			zap.String("event", evt.Name),
			zap.Uint64("subscription", e.id),
			zap.Error(err),
		)
	}
}

// Subscription is the capability returned by Subscribe.
type Subscription struct {
	dispatcher *Dispatcher
	name       string
	id         uint64
	once       sync.Once
}

// Name returns the event name the subscription is registered for.
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe removes exactly this handler. It is safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.dispatcher.remove(s.name, s.id)
	})
}
