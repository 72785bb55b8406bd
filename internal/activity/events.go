package activity

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// EventKind is a class of user interaction the monitor treats as activity.
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	KeyDown
	Scroll
	TouchStart
	Click
	// VisibilityRegained fires when the dashboard becomes visible again.
	VisibilityRegained
)

// InteractionKinds is the fixed set of events counted as activity.
var InteractionKinds = []EventKind{PointerDown, PointerMove, KeyDown, Scroll, TouchStart, Click, VisibilityRegained}

// String returns a string representation of the EventKind.
func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerMove:
		return "pointermove"
	case KeyDown:
		return "keydown"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touchstart"
	case Click:
		return "click"
	case VisibilityRegained:
		return "visible"
	default:
		return "unknown"
	}
}

// Listener receives interaction events.
type Listener func(kind EventKind)

// EventSource lets the monitor subscribe to interaction events.
type EventSource interface {
	// Subscribe registers fn for the given kinds and returns a function that
	// removes the registration. The returned function is safe to call twice.
	Subscribe(kinds []EventKind, fn Listener) (unsubscribe func())
}

// EventBus is the EventSource hosts publish interactions into.
//
// Dispatch is synchronous. A panicking listener is recovered and logged.
type EventBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventKind]map[int]Listener
}

var _ EventSource = (*EventBus)(nil)

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[EventKind]map[int]Listener)}
}

// Subscribe implements EventSource.
func (b *EventBus) Subscribe(kinds []EventKind, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	for _, k := range kinds {
		if b.listeners[k] == nil {
			b.listeners[k] = make(map[int]Listener)
		}
		b.listeners[k][id] = fn
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, k := range kinds {
				delete(b.listeners[k], id)
			}
		})
	}
}

// Emit delivers kind to every listener registered for it.
func (b *EventBus) Emit(kind EventKind) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.listeners[kind]))
	for _, fn := range b.listeners[kind] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		dispatch(fn, kind)
	}
}

// ListenerCount returns how many listeners are registered for kind.
func (b *EventBus) ListenerCount(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[kind])
}

func dispatch(fn Listener, kind EventKind) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", kind.String()).Msg("activity listener panicked")
		}
	}()
	fn(kind)
}
