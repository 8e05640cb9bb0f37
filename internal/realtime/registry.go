package realtime

import (
	"io"
	"log/slog"
	"sync"
)

// Registry multiplexes conversation subscriptions: however many consumers
// register for a conversation, exactly one underlying subscription exists.
// The first registration opens it, the last unregistration closes it.
type Registry struct {
	subscriber Subscriber

	mu      sync.Mutex
	entries map[string]*entry
	nextID  int
}

type entry struct {
	conversationID string
	refCount       int
	lastStatus     *Status
	closer         io.Closer

	statusListeners map[int]func(Status)
	eventListeners  [numEventKinds]map[int]func(ChangeEvent)
}

// NewRegistry builds a registry over the given subscription transport.
func NewRegistry(subscriber Subscriber) *Registry {
	return &Registry{
		subscriber: subscriber,
		entries:    make(map[string]*entry),
	}
}

// Register adds handlers for a conversation and returns the unregister
// function. The first registration for a conversation opens the underlying
// subscription; if that open fails, status listeners receive
// StatusChannelError instead of an error so callers degrade to polling.
//
// If a status is already known, the new OnStatus handler receives it
// synchronously before Register returns, so late subscribers never wait for
// the next transport event to learn current health.
//
// The returned function is idempotent and safe to call from a deferred
// cleanup path.
func (r *Registry) Register(conversationID string, handlers Handlers) func() {
	r.mu.Lock()

	e, ok := r.entries[conversationID]
	if !ok {
		e = &entry{
			conversationID:  conversationID,
			statusListeners: make(map[int]func(Status)),
		}
		for kind := range e.eventListeners {
			e.eventListeners[kind] = make(map[int]func(ChangeEvent))
		}
		r.entries[conversationID] = e
	}
	e.refCount++

	id := r.nextID
	r.nextID++

	if handlers.OnStatus != nil {
		e.statusListeners[id] = handlers.OnStatus
	}
	for kind := EventKind(0); kind < numEventKinds; kind++ {
		if cb := handlers.byKind(kind); cb != nil {
			e.eventListeners[kind][id] = cb
		}
	}

	replay := e.lastStatus
	openNeeded := !ok
	r.mu.Unlock()

	// Replay outside the lock; the callback may re-enter the registry.
	if replay != nil && handlers.OnStatus != nil {
		handlers.OnStatus(*replay)
	}

	if openNeeded {
		r.open(e)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(conversationID, id) })
	}
}

// open starts the single subscription for an entry. Called without the lock
// held; the subscription's callbacks route back through dispatch.
func (r *Registry) open(e *entry) {
	closer, err := r.subscriber.Subscribe(e.conversationID, func(ev ChangeEvent) {
		r.dispatchEvent(e.conversationID, ev)
	}, func(status Status) {
		r.dispatchStatus(e.conversationID, status)
	})
	if err != nil {
		slog.Debug("subscription open failed", "conversation", e.conversationID, "error", err)
		r.dispatchStatus(e.conversationID, StatusChannelError)
		return
	}

	r.mu.Lock()
	// The last listener may have unregistered while Subscribe was in flight.
	if current, ok := r.entries[e.conversationID]; !ok || current != e {
		r.mu.Unlock()
		_ = closer.Close()
		return
	}
	e.closer = closer
	r.mu.Unlock()
}

func (r *Registry) dispatchEvent(conversationID string, ev ChangeEvent) {
	kind, ok := classify(ev.Table, ev.Type)
	if !ok {
		return
	}

	r.mu.Lock()
	e, found := r.entries[conversationID]
	if !found {
		r.mu.Unlock()
		return
	}
	listeners := make([]func(ChangeEvent), 0, len(e.eventListeners[kind]))
	for _, cb := range e.eventListeners[kind] {
		listeners = append(listeners, cb)
	}
	r.mu.Unlock()

	for _, cb := range listeners {
		cb(ev)
	}
}

func (r *Registry) dispatchStatus(conversationID string, status Status) {
	r.mu.Lock()
	e, found := r.entries[conversationID]
	if !found {
		r.mu.Unlock()
		return
	}
	e.lastStatus = &status
	listeners := make([]func(Status), 0, len(e.statusListeners))
	for _, cb := range e.statusListeners {
		listeners = append(listeners, cb)
	}
	r.mu.Unlock()

	for _, cb := range listeners {
		cb(status)
	}
}

func (r *Registry) unregister(conversationID string, id int) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(e.statusListeners, id)
	for kind := range e.eventListeners {
		delete(e.eventListeners[kind], id)
	}

	e.refCount--
	if e.refCount > 0 {
		r.mu.Unlock()
		return
	}

	closer := e.closer
	delete(r.entries, conversationID)
	r.mu.Unlock()

	if closer != nil {
		// The entry is gone either way; a failed close changes nothing.
		if err := closer.Close(); err != nil {
			slog.Debug("subscription close failed", "conversation", conversationID, "error", err)
		}
	}
}

// ActiveConversations reports how many conversations currently hold an open
// entry. Intended for tests and debug output.
func (r *Registry) ActiveConversations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
