package core

import "sync"

type EventType string

const (
	// Remote playback lifecycle.
	EventPlay    EventType = "play"
	EventPlaying EventType = "playing"
	EventWaiting EventType = "waiting"
	EventEnded   EventType = "ended"
	EventPause   EventType = "pause"

	// Peer connection lifecycle; Data is the state name.
	EventConnectionState EventType = "connectionstatechange"
)

const (
	PeerStateConnected    = "connected"
	PeerStateDisconnected = "disconnected"
	PeerStateFailed       = "failed"
	PeerStateClosed       = "closed"
)

type Event struct {
	Type EventType
	Data any
}

type Listener func(Event)

type ListenerID uint64

// EventTarget is anything listeners can be attached to and detached from.
type EventTarget interface {
	AddListener(t EventType, l Listener) ListenerID
	RemoveListener(t EventType, id ListenerID)
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Emitter is a threadsafe EventTarget. Listeners run on the emitting
// goroutine, outside the emitter lock, in registration order.
type Emitter struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[EventType][]listenerEntry
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventType][]listenerEntry)}
}

func (e *Emitter) AddListener(t EventType, l Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]listenerEntry)
	}
	e.next++
	e.listeners[t] = append(e.listeners[t], listenerEntry{id: e.next, fn: l})
	return e.next
}

func (e *Emitter) RemoveListener(t EventType, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[t]
	for i, le := range entries {
		if le.id == id {
			e.listeners[t] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	entries := append([]listenerEntry(nil), e.listeners[ev.Type]...)
	e.mu.Unlock()
	for _, le := range entries {
		le.fn(ev)
	}
}

func (e *Emitter) ListenerCount(t EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[t])
}
