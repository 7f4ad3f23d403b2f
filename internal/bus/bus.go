// Package bus provides the in-process publish/subscribe registry that
// decouples consumers from the realtime transport. Delivery is synchronous
// and in subscription order: Publish invokes every handler registered for
// the event name on the caller's goroutine before returning. There is no
// buffering; a publish with no subscribers is a no-op.
package bus

import (
	"sync"
	"time"
)

// Well-known event names.
const (
	ConnectionStateChanged = "connection_state_changed"
	Typing                 = "typing"
	QueuePosition          = "queue_position"
	ContactsUpdate         = "contacts_update"
	GPSRequest             = "gps_request"
	CallReport             = "call_report"
	MessageUpserted        = "message_upserted"
	MessageSendFailed      = "message_send_failed"
	ConversationUpdated    = "conversation_updated"
	TrackPoints            = "track_points"
)

// Event is delivered to every handler subscribed to its name.
type Event struct {
	Name      string
	Timestamp time.Time
	Payload   any
}

// Handler receives a published event. Handlers must be idempotent to
// duplicate or out-of-order external notifications.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is safe for concurrent use. Handlers for one event run sequentially,
// never concurrently with each other.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for the exact event name and returns an
// unsubscribe function. Unsubscribing during dispatch is safe; the handler
// may still receive the event currently being delivered.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[name]
		for i, s := range list {
			if s.id == id {
				b.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the payload to all handlers subscribed to name, in
// subscription order, synchronously on the caller's goroutine.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	list := b.subs[name]
	handlers := make([]Handler, len(list))
	for i, s := range list {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	evt := Event{Name: name, Timestamp: time.Now(), Payload: payload}
	for _, h := range handlers {
		h(evt)
	}
}
