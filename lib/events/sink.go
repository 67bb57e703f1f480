package events

import "sync"

// Sink receives published events.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Collector records events in memory. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// For returns the events for one session code, in publish order.
func (c *Collector) For(code string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.SessionCode() == code {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the event types for one session code, in publish order.
func (c *Collector) Types(code string) []Type {
	var out []Type
	for _, ev := range c.For(code) {
		out = append(out, ev.EventType())
	}
	return out
}
