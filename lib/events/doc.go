// Package events defines the lifecycle events a session emits and the sinks
// that receive them.
//
// The set of variants is closed: CodeReady, Connecting, Linked, Disconnected
// and Removed. Consumers switch on the concrete type or on EventType. Every
// event carries the session code and the time it occurred. Delivery is
// at-least-once; consumers must treat a repeated event as a no-op.
//
// Sinks are called from the pool's event loop and must not block.
package events
