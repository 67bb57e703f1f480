package sim

import (
	"context"
	"sync"

	"github.com/go-i2p/go-linkd/lib/transport"
)

// Handle is a simulated transport.Handle. The Emit/Connect/Drop methods play
// the gateway's side of the connection.
type Handle struct {
	req transport.OpenRequest

	mu       sync.Mutex
	events   chan transport.Event
	identity string
	closed   bool
	sent     []transport.Outbound
}

func newHandle(req transport.OpenRequest) *Handle {
	return &Handle{
		req:    req,
		events: make(chan transport.Event, eventBuffer),
	}
}

// Request returns the OpenRequest the handle was created with.
func (h *Handle) Request() transport.OpenRequest { return h.req }

func (h *Handle) Events() <-chan transport.Event { return h.events }

func (h *Handle) Identity() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *Handle) Send(ctx context.Context, msg transport.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.identity == "" {
		return transport.ErrHandleClosed
	}
	h.sent = append(h.sent, msg)
	return nil
}

// Close marks the handle closed and ends its event stream.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finishLocked()
	return nil
}

// Closed reports whether Close or Drop was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Sent returns a copy of every message passed to Send.
func (h *Handle) Sent() []transport.Outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transport.Outbound(nil), h.sent...)
}

// EmitCode emits a code-ready event.
func (h *Handle) EmitCode(payload string) {
	h.emit(transport.Event{Kind: transport.EventCodeReady, Payload: payload})
}

// Upgrade emits a credential-upgrade event.
func (h *Handle) Upgrade(creds []byte) {
	h.emit(transport.Event{Kind: transport.EventCredentialUpgrade, Credentials: creds})
}

// Connect sets the identity and emits an open event.
func (h *Handle) Connect(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.identity = identity
	h.emitLocked(transport.Event{Kind: transport.EventOpen, Identity: identity})
}

// Drop emits a close event with reason and ends the stream.
func (h *Handle) Drop(reason transport.DisconnectReason) {
	h.drop(reason, false)
}

// Logout emits an operator-requested close and ends the stream.
func (h *Handle) Logout() {
	h.drop(transport.ReasonUnknown, true)
}

// Deliver emits an inbound message event.
func (h *Handle) Deliver(msg transport.Inbound) {
	h.emit(transport.Event{Kind: transport.EventMessage, Message: &msg})
}

// ForgetIdentity clears the identity without emitting anything, as if the
// close event had been lost.
func (h *Handle) ForgetIdentity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identity = ""
}

func (h *Handle) drop(reason transport.DisconnectReason, operator bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.identity = ""
	h.emitLocked(transport.Event{Kind: transport.EventClose, Reason: reason, OperatorRequested: operator})
	h.finishLocked()
}

func (h *Handle) emit(ev transport.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.emitLocked(ev)
}

func (h *Handle) emitLocked(ev transport.Event) {
	select {
	case h.events <- ev:
	default:
		log.WithField("code", h.req.Code).Warn("simulated event buffer full, dropping event")
	}
}

func (h *Handle) finishLocked() {
	if h.closed {
		return
	}
	h.closed = true
	h.identity = ""
	close(h.events)
}
