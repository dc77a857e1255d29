package eventbus

import (
	"log/slog"
	"sync"
)

// Observer receives a lifecycle event. Observers run synchronously on the
// emitting goroutine, in subscription order.
type Observer func(event Event)

type subscription struct {
	id       int
	observer Observer
}

// Dispatcher fans lifecycle events out to registered observers. Delivery is
// synchronous, ordered and fire-and-forget: a panicking observer is logged
// and never interrupts delivery to the remaining observers or the caller.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   []subscription
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
	}
}

// Subscribe registers an observer and returns its unsubscribe handle. The
// handle is idempotent and safe to call while an emission is in flight.
func (d *Dispatcher) Subscribe(observer Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, observer: observer})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		for i, sub := range d.subs {
			if sub.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)

				break
			}
		}
	}
}

// Emit delivers the event to every observer registered at the time of the
// call. Iteration works on a snapshot, so observers may unsubscribe (or new
// ones subscribe) during delivery without affecting the current emission.
func (d *Dispatcher) Emit(event Event) {
	d.mu.Lock()
	snapshot := make([]subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.Unlock()

	for _, sub := range snapshot {
		d.deliver(sub, event)
	}
}

func (d *Dispatcher) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event observer panicked",
				"event_type", event.GetType(),
				"observer_id", sub.id,
				"panic", r,
			)
		}
	}()

	sub.observer(event)
}

// ObserverCount returns the number of registered observers.
func (d *Dispatcher) ObserverCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subs)
}
