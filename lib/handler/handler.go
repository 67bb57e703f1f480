// Package handler processes inbound chat messages for linked sessions.
//
// Each session holds a Slot with its current Handler. Reloading swaps the
// slot's contents; calls already running finish on the handler they started
// with.
package handler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-linkd/lib/transport"
)

var log = logger.GetGoI2PLogger()

// Message is an inbound message tagged with the session it arrived on.
type Message struct {
	Session string
	transport.Inbound
}

// Replier sends messages back through the session's transport.
type Replier interface {
	Send(ctx context.Context, msg transport.Outbound) error
}

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg Message, reply Replier) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, msg Message, reply Replier) error

func (f Func) Handle(ctx context.Context, msg Message, reply Replier) error {
	return f(ctx, msg, reply)
}

// Factory builds the handler for a session code.
type Factory func(code string) Handler

// Nop ignores every message.
var Nop Handler = Func(func(context.Context, Message, Replier) error { return nil })

// NopFactory returns Nop for every session.
func NopFactory(string) Handler { return Nop }

// Chain runs handlers in order. Every handler runs; errors are joined.
type Chain []Handler

func (c Chain) Handle(ctx context.Context, msg Message, reply Replier) error {
	var errs []error
	for _, h := range c {
		if err := h.Handle(ctx, msg, reply); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Slot holds a session's current handler. It is safe for concurrent use.
type Slot struct {
	p atomic.Pointer[entry]
}

type entry struct{ h Handler }

// NewSlot creates a slot holding h, or Nop when h is nil.
func NewSlot(h Handler) *Slot {
	s := &Slot{}
	s.Swap(h)
	return s
}

// Load returns the current handler.
func (s *Slot) Load() Handler {
	if e := s.p.Load(); e != nil {
		return e.h
	}
	return Nop
}

// Swap installs h and returns the previous handler.
func (s *Slot) Swap(h Handler) Handler {
	if h == nil {
		h = Nop
	}
	old := s.p.Swap(&entry{h: h})
	if old == nil {
		return Nop
	}
	return old.h
}

// Log writes every message to the log at debug level.
var Log Handler = Func(func(_ context.Context, msg Message, _ Replier) error {
	log.WithFields(logger.Fields{
		"at":      "handler.Log",
		"session": msg.Session,
		"from":    msg.From,
		"chat":    msg.Chat,
		"id":      msg.ID,
		"length":  len(msg.Text),
	}).Debug("inbound message")
	return nil
})
