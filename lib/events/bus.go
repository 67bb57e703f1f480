package events

import (
	"runtime/debug"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Handler receives events from a Bus.
type Handler func(Event)

// SubscriptionID identifies a Bus subscription.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	filter  Type
	handler Handler
}

// Bus is a synchronous fan-out Sink. Handlers run on the publisher's
// goroutine in registration order; a panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(t Type, handler Handler) SubscriptionID {
	return b.add(t, handler)
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	return b.add("", handler)
}

func (b *Bus) add(t Type, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, filter: t, handler: handler})
	return b.nextID
}

// Unsubscribe removes a subscription. It reports whether it was found.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish implements Sink.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.filter != "" && s.filter != ev.EventType() {
			continue
		}
		b.safeCall(s.handler, ev)
	}
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":     "(Bus) Publish",
				"type":   string(ev.EventType()),
				"code":   ev.SessionCode(),
				"panic":  r,
				"reason": "handler_panic",
			}).Error("event handler panicked\n" + string(debug.Stack()))
		}
	}()
	h(ev)
}
