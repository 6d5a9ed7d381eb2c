package auth

import "sync"

type EventType string

const (
	EventLogin          EventType = "login"
	EventLogout         EventType = "logout"
	EventTokenRefreshed EventType = "tokenRefreshed"
)

// Event is delivered synchronously to every handler registered for its type.
type Event struct {
	Type  EventType
	Token string
	User  *User
	// Remote is set when the change was made by another process.
	Remote bool
}

type emitter struct {
	mu       sync.Mutex
	next     int
	handlers map[EventType]map[int]func(Event)
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventType]map[int]func(Event))}
}

func (e *emitter) on(t EventType, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers[t] == nil {
		e.handlers[t] = make(map[int]func(Event))
	}
	id := e.next
	e.next++
	e.handlers[t][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[t], id)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.handlers[ev.Type]))
	for _, fn := range e.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
