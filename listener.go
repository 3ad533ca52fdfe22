package vosk

import "sync"

// Listener receives transcript events. For each utterance it is called zero or more
// times with partial events and then once with the final event.
type Listener interface {
	Notify(event TranscriptEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event TranscriptEvent)

func (f ListenerFunc) Notify(event TranscriptEvent) { f(event) }

// ListenerRegistry is an ordered, append-only set of listeners.
// Listeners are never removed; NotifyAll walks a snapshot so registration
// may race with dispatch.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (r *ListenerRegistry) Add(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Notify lets a registry be registered as a listener of another registry or session.
func (r *ListenerRegistry) Notify(event TranscriptEvent) { r.NotifyAll(event) }

// NotifyAll delivers event to every listener in registration order.
func (r *ListenerRegistry) NotifyAll(event TranscriptEvent) {
	r.mu.RLock()
	snapshot := r.listeners[:len(r.listeners):len(r.listeners)]
	r.mu.RUnlock()

	for _, l := range snapshot {
		l.Notify(event)
	}
}
