package conn

import (
	"sync"
	"time"

	"github.com/wsmux/wsmux/internal/observability"
)

// EventKind identifies a Connection lifecycle or dispatch event.
type EventKind int

const (
	EventConnectionLost EventKind = iota
	EventConnectionRestored
	EventConnectionClosed
	EventClosed
	EventActivityPaused
	EventActivityUnpaused
	EventUnhandledMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionLost:
		return "connection-lost"
	case EventConnectionRestored:
		return "connection-restored"
	case EventConnectionClosed:
		return "connection-closed"
	case EventClosed:
		return "closed"
	case EventActivityPaused:
		return "activity-paused"
	case EventActivityUnpaused:
		return "activity-unpaused"
	case EventUnhandledMessage:
		return "unhandled-message"
	default:
		return "unknown"
	}
}

// Event is a single lifecycle notification delivered to listeners registered
// via Connection.OnEvent.
type Event struct {
	Kind           EventKind
	OutageDuration time.Duration // set for EventConnectionRestored
	Frame          Frame         // set for EventUnhandledMessage
}

// Listener receives Events. A panicking listener is recovered and logged; it
// never crashes the emitting goroutine.
type Listener func(Event)

type emitter struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[int]Listener)}
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	snapshot := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		snapshot = append(snapshot, l)
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		invokeListener(l, ev)
	}
}

func invokeListener(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("event listener panicked",
				observability.Field{Key: "kind", Value: ev.Kind.String()},
				observability.Field{Key: "panic", Value: r},
			)
		}
	}()
	l(ev)
}
