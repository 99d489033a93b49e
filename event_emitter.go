package wsrpc

import (
	"sync"
)

type callback[T any] func(T)

// EventEmitter maps events (of type K) to listeners receiving values of type V.
// Listeners run synchronously on the goroutine calling Emit, outside the lock, so
// a listener may register or remove listeners itself.
type EventEmitter[K comparable, V any] struct {
	listeners map[K][]callback[V]
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitter and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitter[K, V] {
	return &EventEmitter[K, V]{
		listeners: make(map[K][]callback[V]),
	}
}

// On registers a new listener for the given event.
func (e *EventEmitter[K, V]) On(event K, listener func(V)) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners[event] = append(e.listeners[event], listener)
}

// Emit calls every listener registered for event, in registration order, and
// reports whether there was at least one.
func (e *EventEmitter[K, V]) Emit(event K, data V) bool {
	e.lock.RLock()
	listeners := make([]callback[V], len(e.listeners[event]))
	copy(listeners, e.listeners[event])
	e.lock.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
	return len(listeners) > 0
}

// ListenerCount returns the number of listeners registered for event.
func (e *EventEmitter[K, V]) ListenerCount(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Off removes every listener of event.
func (e *EventEmitter[K, V]) Off(event K) {
	e.lock.Lock()
	defer e.lock.Unlock()

	delete(e.listeners, event)
}

// Close removes all listeners to prevent memory leaks.
func (e *EventEmitter[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]callback[V])
}
