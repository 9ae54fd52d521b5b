package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

// EventType identifies a timestep state transition.
type EventType int

const (
	EventTimestampLoading EventType = iota
	EventTimestampLoaded
	EventTimestampFailed
)

func (e EventType) String() string {
	switch e {
	case EventTimestampLoading:
		return "timestamp.loading"
	case EventTimestampLoaded:
		return "timestamp.loaded"
	case EventTimestampFailed:
		return "timestamp.failed"
	default:
		return "unknown"
	}
}

// Event notifies consumers (renderers, progress UI) of a timestep state
// transition. Payload is set on loaded events, Err on failed ones.
type Event struct {
	Type    EventType
	LayerID string
	Index   int
	Step    manifest.TimeStep
	Payload []grid.Field
	Err     error
}

// Listener receives events. Delivery is synchronous: listeners run on the
// goroutine that made the state transition and must not block.
type Listener func(Event)

type subscription struct {
	id uuid.UUID
	fn Listener
}

// Bus is a typed in-process publish/subscribe channel. Listeners are invoked
// synchronously in registration order.
type Bus struct {
	mu        sync.RWMutex
	listeners []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(fn Listener) uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes a previously registered listener.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.listeners {
		if sub.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to all listeners in registration order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, sub := range listeners {
		sub.fn(ev)
	}
}
