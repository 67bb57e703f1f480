// Package signals routes process signals to registered handlers: SIGHUP
// reloads, SIGINT/SIGTERM first drains then interrupts.
package signals

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// DefaultDrainTimeout bounds the drain phase of an interrupt.
const DefaultDrainTimeout = 30 * time.Second

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration so it can be removed again.
type HandlerID int

// Kind selects the phase a handler runs in.
type Kind int

const (
	// Reload handlers run on SIGHUP.
	Reload Kind = iota
	// Drain handlers run first on SIGINT/SIGTERM, bounded by the drain timeout.
	Drain
	// Interrupt handlers run after the drain phase.
	Interrupt
)

func (k Kind) String() string {
	switch k {
	case Reload:
		return "reload"
	case Drain:
		return "drain"
	case Interrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type registered struct {
	id HandlerID
	fn Handler
}

// Dispatcher holds handler registrations. Handlers of one kind run in
// registration order; a panicking handler is logged and skipped.
type Dispatcher struct {
	mu           sync.RWMutex
	handlers     map[Kind][]registered
	nextID       HandlerID
	drainTimeout time.Duration
}

// New creates a Dispatcher. A non-positive drainTimeout uses
// DefaultDrainTimeout.
func New(drainTimeout time.Duration) *Dispatcher {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Dispatcher{
		handlers:     make(map[Kind][]registered),
		drainTimeout: drainTimeout,
	}
}

// On registers f for kind. Nil handlers are ignored and return -1.
func (d *Dispatcher) On(kind Kind, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.handlers[kind] = append(d.handlers[kind], registered{id: id, fn: f})
	return id
}

// Off removes a registration. It reports whether id was found.
func (d *Dispatcher) Off(id HandlerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kind, hs := range d.handlers {
		for i, h := range hs {
			if h.id == id {
				d.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) snapshot(kind Kind) []registered {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]registered(nil), d.handlers[kind]...)
}

func (d *Dispatcher) run(kind Kind) {
	for _, h := range d.snapshot(kind) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "(Dispatcher) run",
						"kind":    kind.String(),
						"handler": int(h.id),
						"panic":   fmt.Sprint(r),
						"reason":  "handler_panic",
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// Reload runs the reload handlers.
func (d *Dispatcher) Reload() {
	log.WithField("at", "(Dispatcher) Reload").Info("reload requested")
	d.run(Reload)
}

// Shutdown runs the drain handlers, waiting at most the drain timeout, then
// the interrupt handlers. It reports whether the drain finished in time.
func (d *Dispatcher) Shutdown() bool {
	drained := true
	if len(d.snapshot(Drain)) > 0 {
		done := make(chan struct{})
		go func() {
			defer close(done)
			d.run(Drain)
		}()
		select {
		case <-done:
		case <-time.After(d.drainTimeout):
			drained = false
			log.WithFields(logger.Fields{
				"at":      "(Dispatcher) Shutdown",
				"timeout": d.drainTimeout.String(),
				"reason":  "drain_timeout",
			}).Warn("drain handlers did not finish in time")
		}
	}
	d.run(Interrupt)
	return drained
}

// Dispatch routes one signal. It reports whether the signal asked the
// process to stop.
func (d *Dispatcher) Dispatch(sig os.Signal) bool {
	switch classify(sig) {
	case actionReload:
		d.Reload()
		return false
	case actionStop:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
		d.Shutdown()
		return true
	default:
		log.WithField("signal", sig.String()).Debug("ignoring signal")
		return false
	}
}

// Run listens for signals until a stop signal has been handled or ctx ends.
// On ctx end the shutdown handlers still run.
func (d *Dispatcher) Run(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, watched...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			d.Shutdown()
			return
		case sig := <-ch:
			if d.Dispatch(sig) {
				return
			}
		}
	}
}

type action int

const (
	actionNone action = iota
	actionReload
	actionStop
)
