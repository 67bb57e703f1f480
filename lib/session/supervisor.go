package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/events"
	"github.com/go-i2p/go-linkd/lib/handler"
	"github.com/go-i2p/go-linkd/lib/transport"
)

var log = logger.GetGoI2PLogger()

const (
	inboxSize    = 128
	ioQueueSize  = 16
	messageLimit = 30 * time.Second
)

// Host is implemented by the owner of a Supervisor.
type Host interface {
	// Post runs fn on the owner's event loop. It returns false once the
	// owner stopped accepting work.
	Post(fn func()) bool
	// Publish delivers a lifecycle event. Called on the loop.
	Publish(ev events.Event)
	// Linked is called on the loop when the session reaches Linked.
	Linked(s *Supervisor)
	// Terminated is called on the loop exactly once, before the Removed event.
	Terminated(s *Supervisor, t Termination)
}

// Config holds the per-session timing knobs.
type Config struct {
	// WatchdogWindow bounds how long a session may stay unauthenticated.
	WatchdogWindow time.Duration
	// OpenTimeout bounds each transport open.
	OpenTimeout time.Duration
	// TeardownTimeout bounds transport close and credential I/O.
	TeardownTimeout time.Duration
	// ReconnectDelay is waited before every reopen.
	ReconnectDelay time.Duration
	// ReconnectBurst reconnects are allowed at once, refilled one per
	// ReconnectInterval.
	ReconnectBurst    int
	ReconnectInterval time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		WatchdogWindow:    60 * time.Second,
		OpenTimeout:       15 * time.Second,
		TeardownTimeout:   5 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectBurst:    5,
		ReconnectInterval: time.Minute,
	}
}

// Params are the inputs to New.
type Params struct {
	Code          string
	RequestedBy   string
	Method        transport.Method
	TargetAddress string
	// Credentials restores a previously linked session when non-nil.
	Credentials []byte

	Opener  transport.Opener
	Store   credentials.Store
	Host    Host
	Handler handler.Handler
	Config  Config
	Now     func() time.Time
}

// CodeResult is delivered to code waiters.
type CodeResult struct {
	Payload string
	Err     error
}

type delivery struct {
	msg   handler.Message
	reply handler.Replier
}

// Supervisor runs one session.
type Supervisor struct {
	code        string
	requestedBy string
	method      transport.Method
	target      string

	cfg    Config
	host   Host
	opener transport.Opener
	store  credentials.Store
	now    func() time.Time

	slot   *handler.Slot
	inbox  chan delivery
	ioq    chan func()
	ioDone chan struct{}
	done   chan struct{}

	// Loop-confined from here on.
	state       State
	creds       []byte
	handle      transport.Handle
	gen         uint64
	identity    string
	payload     string
	createdAt   time.Time
	lastEventAt time.Time
	reconnects  int
	retries     *rate.Limiter
	watchdog    *time.Timer
	watchdogGen uint64
	waiters     []chan CodeResult
	ended       Termination
}

// New creates a Supervisor in Creating. Call Start on the loop to begin.
func New(p Params) *Supervisor {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Config.ReconnectBurst <= 0 {
		p.Config.ReconnectBurst = 1
	}
	if p.Config.ReconnectInterval <= 0 {
		p.Config.ReconnectInterval = time.Minute
	}
	now := p.Now()
	return &Supervisor{
		code:        p.Code,
		requestedBy: p.RequestedBy,
		method:      p.Method,
		target:      p.TargetAddress,
		cfg:         p.Config,
		host:        p.Host,
		opener:      p.Opener,
		store:       p.Store,
		now:         p.Now,
		slot:        handler.NewSlot(p.Handler),
		inbox:       make(chan delivery, inboxSize),
		ioq:         make(chan func(), ioQueueSize),
		ioDone:      make(chan struct{}),
		done:        make(chan struct{}),
		state:       Creating,
		creds:       p.Credentials,
		createdAt:   now,
		lastEventAt: now,
		retries:     rate.NewLimiter(rate.Every(p.Config.ReconnectInterval), p.Config.ReconnectBurst),
	}
}

// Code returns the session code.
func (s *Supervisor) Code() string { return s.code }

// RequestedBy returns the actor that created the session.
func (s *Supervisor) RequestedBy() string { return s.requestedBy }

// State returns the current state.
func (s *Supervisor) State() State { return s.state }

// Identity returns the linked identity, or "".
func (s *Supervisor) Identity() string { return s.identity }

// Done is closed when the session reaches Terminated. Safe from any goroutine.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// IODone is closed once every queued credential write and purge has finished.
// That happens only after the session is terminated or released.
func (s *Supervisor) IODone() <-chan struct{} { return s.ioDone }

// SetHandler swaps the message handler and returns the previous one. Safe
// from any goroutine; the transport is not touched.
func (s *Supervisor) SetHandler(h handler.Handler) handler.Handler {
	return s.slot.Swap(h)
}

// Start arms the watchdog and opens the first transport handle.
func (s *Supervisor) Start() {
	go s.dispatch()
	go s.runIO()
	s.armWatchdog()

	log.WithFields(logger.Fields{
		"at":        "(Supervisor) Start",
		"code":      s.code,
		"method":    string(s.method),
		"actor":     s.requestedBy,
		"restoring": s.creds != nil,
	}).Info("session starting")

	if s.creds != nil {
		s.enterConnecting()
	}
	s.open()
}

// AwaitCode returns a channel that receives the first code, or an error if
// the session ends before one is issued.
func (s *Supervisor) AwaitCode() <-chan CodeResult {
	ch := make(chan CodeResult, 1)
	switch {
	case s.payload != "":
		ch <- CodeResult{Payload: s.payload}
	case s.state == Terminated:
		ch <- CodeResult{Err: s.endError()}
	default:
		s.waiters = append(s.waiters, ch)
	}
	return ch
}

// Stale reports whether the sweep should evict the session: it is Linked
// but its handle no longer reports an identity, or it is unauthenticated
// without a running watchdog.
func (s *Supervisor) Stale() bool {
	switch {
	case s.state == Terminated:
		return false
	case s.handleIdentity() != "":
		return false
	case s.state == Linked:
		return true
	default:
		return s.watchdog == nil
	}
}

// Terminate forces the session to Terminated. The transport is closed in
// the background. Calling it again is a no-op.
func (s *Supervisor) Terminate(t Termination) {
	if h := s.terminate(t); h != nil {
		go closeHandle(h, s.code, s.cfg.TeardownTimeout)
	}
}

// Release terminates the session like Terminate but hands the transport to
// the caller instead of closing it.
func (s *Supervisor) Release(t Termination) transport.Handle {
	return s.terminate(t)
}

func (s *Supervisor) terminate(t Termination) transport.Handle {
	if s.state == Terminated {
		return nil
	}
	prev := s.state
	s.state = Terminated
	s.ended = t
	s.stopWatchdog()
	h := s.detach()

	if t.Purge {
		s.enqueueIO(func(ctx context.Context) {
			if err := s.store.Remove(ctx, s.code); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"at":     "(Supervisor) terminate",
					"code":   s.code,
					"reason": "credential_purge_failed",
				}).Warn("failed to remove credentials")
			}
		})
	}
	close(s.ioq)
	close(s.done)

	err := s.endError()
	for _, w := range s.waiters {
		w <- CodeResult{Err: err}
	}
	s.waiters = nil

	log.WithFields(logger.Fields{
		"at":       "(Supervisor) terminate",
		"code":     s.code,
		"from":     prev.String(),
		"reason":   t.Reason,
		"purge":    t.Purge,
		"identity": s.identity,
	}).Info("session terminated")

	s.host.Terminated(s, t)
	s.host.Publish(events.NewRemoved(s.code, t.Reason, s.now()))
	return h
}

func (s *Supervisor) endError() error {
	cause := s.ended.Cause
	if cause == nil {
		cause = ErrTerminated
	}
	return oops.Wrapf(cause, "session %s ended: %s", s.code, s.ended.Reason)
}

// open starts an asynchronous transport open for the current generation.
func (s *Supervisor) open() {
	s.gen++
	gen := s.gen
	req := transport.OpenRequest{
		Code:          s.code,
		Credentials:   s.creds,
		Method:        s.method,
		TargetAddress: s.target,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpenTimeout)
		defer cancel()
		h, err := s.opener.Open(ctx, req)
		if !s.host.Post(func() { s.opened(gen, h, err) }) && h != nil {
			closeHandle(h, s.code, s.cfg.TeardownTimeout)
		}
	}()
}

func (s *Supervisor) opened(gen uint64, h transport.Handle, err error) {
	if gen != s.gen || s.state == Terminated {
		if h != nil {
			go closeHandle(h, s.code, s.cfg.TeardownTimeout)
		}
		return
	}
	if err != nil {
		s.openFailed(err)
		return
	}
	s.handle = h
	go s.pump(gen, h)
}

func (s *Supervisor) openFailed(err error) {
	log.WithError(err).WithFields(logger.Fields{
		"at":     "(Supervisor) openFailed",
		"code":   s.code,
		"state":  s.state.String(),
		"reason": "transport_open_failed",
	}).Warn("transport open failed")

	if errors.Is(err, transport.ErrInvalidRequest) {
		s.Terminate(Termination{Reason: ReasonInvalidRequest, Cause: oops.Wrapf(ErrTransportFault, "%v", err)})
		return
	}
	if !s.retries.Allow() {
		s.Terminate(Termination{Reason: ReasonRetriesExhausted, Cause: ErrTransportFault})
		return
	}
	s.openAfter(s.cfg.ReconnectDelay)
}

// openAfter schedules a reopen unless something else opened or ended the
// session in the meantime.
func (s *Supervisor) openAfter(d time.Duration) {
	if d <= 0 {
		s.open()
		return
	}
	gen := s.gen
	time.AfterFunc(d, func() {
		s.host.Post(func() {
			if gen == s.gen && s.state != Terminated && s.handle == nil {
				s.open()
			}
		})
	})
}

// detach invalidates the current handle and returns it.
func (s *Supervisor) detach() transport.Handle {
	h := s.handle
	s.handle = nil
	s.gen++
	return h
}

// pump forwards handle events onto the loop. Messages go straight to the
// dispatcher.
func (s *Supervisor) pump(gen uint64, h transport.Handle) {
	for ev := range h.Events() {
		if ev.Kind == transport.EventMessage {
			if ev.Message != nil {
				s.deliver(h, *ev.Message)
			}
			continue
		}
		ev := ev
		if !s.host.Post(func() { s.apply(gen, ev) }) {
			return
		}
	}
	s.host.Post(func() {
		if gen == s.gen && s.state != Terminated {
			s.apply(gen, transport.Event{Kind: transport.EventClose, Reason: transport.ReasonConnectionLost})
		}
	})
}

// apply advances the state machine for one transport event.
func (s *Supervisor) apply(gen uint64, ev transport.Event) {
	if gen != s.gen || s.state == Terminated {
		return
	}
	s.lastEventAt = s.now()

	switch ev.Kind {
	case transport.EventCodeReady:
		s.onCode(ev.Payload)
	case transport.EventCredentialUpgrade:
		s.onUpgrade(ev.Credentials)
	case transport.EventOpen:
		s.onOpen(ev.Identity)
	case transport.EventClose:
		s.onClose(ev.Reason, ev.OperatorRequested)
	}
}

func (s *Supervisor) onCode(payload string) {
	switch s.state {
	case Creating:
		next := AwaitingQr
		if s.method == transport.MethodPairing {
			next = AwaitingPairing
		}
		s.transition(next)
	case AwaitingQr, AwaitingPairing:
		// refreshed code
	default:
		log.WithFields(logger.Fields{
			"at":    "(Supervisor) onCode",
			"code":  s.code,
			"state": s.state.String(),
		}).Debug("ignoring code in non-awaiting state")
		return
	}

	s.payload = payload
	s.host.Publish(events.NewCodeReady(s.code, string(s.method), payload, s.now()))
	for _, w := range s.waiters {
		w <- CodeResult{Payload: payload}
	}
	s.waiters = nil
}

func (s *Supervisor) onUpgrade(creds []byte) {
	if len(creds) == 0 {
		return
	}
	s.creds = append([]byte(nil), creds...)
	data := s.creds
	s.enqueueIO(func(ctx context.Context) {
		if err := s.store.Write(ctx, s.code, data); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "(Supervisor) onUpgrade",
				"code":   s.code,
				"reason": "credential_write_failed",
			}).Error("failed to persist credentials")
		}
	})

	if s.state == AwaitingQr || s.state == AwaitingPairing {
		s.enterConnecting()
	}
}

func (s *Supervisor) onOpen(identity string) {
	if identity == "" {
		identity = s.handleIdentity()
	}
	if identity == "" {
		log.WithFields(logger.Fields{
			"at":     "(Supervisor) onOpen",
			"code":   s.code,
			"reason": "open_without_identity",
		}).Warn("transport opened without an identity")
		return
	}

	switch s.state {
	case Creating, AwaitingQr, AwaitingPairing:
		s.enterConnecting()
	case Connecting:
	default:
		return
	}

	s.transition(Linked)
	s.identity = identity
	s.stopWatchdog()
	log.WithFields(logger.Fields{
		"at":       "(Supervisor) onOpen",
		"code":     s.code,
		"identity": identity,
	}).Info("session linked")
	s.host.Publish(events.NewLinked(s.code, identity, s.now()))
	s.host.Linked(s)
}

func (s *Supervisor) onClose(reason transport.DisconnectReason, operator bool) {
	d := Classify(reason, operator)
	fields := logger.Fields{
		"at":       "(Supervisor) onClose",
		"code":     s.code,
		"state":    s.state.String(),
		"reason":   reason.String(),
		"decision": d.Action.String(),
		"purge":    d.PurgeCredentials,
	}
	if !d.Known {
		fields["reason"] = "unclassified_disconnect"
		fields["disconnect_code"] = int(reason)
		log.WithFields(fields).Warn("unclassified disconnect reason, reconnecting")
	} else {
		log.WithFields(fields).Info("transport closed")
	}

	prev := s.state
	s.identity = ""
	if h := s.detach(); h != nil {
		go closeHandle(h, s.code, s.cfg.TeardownTimeout)
	}

	switch prev {
	case Linked, Connecting:
		s.transition(Disconnected)
		s.host.Publish(events.NewDisconnected(s.code, int(reason), reason.String(), s.now()))
		if d.Action == Terminate {
			s.Terminate(d.Termination())
			return
		}
		s.reconnect()
	default:
		// Still waiting for the user: reopen in place, a fresh code follows.
		if d.Action == Terminate {
			s.Terminate(d.Termination())
			return
		}
		if !s.retries.Allow() {
			s.Terminate(Termination{Reason: ReasonRetriesExhausted, Cause: ErrTransportFault})
			return
		}
		s.openAfter(s.cfg.ReconnectDelay)
	}
}

func (s *Supervisor) reconnect() {
	if !s.retries.Allow() {
		s.Terminate(Termination{Reason: ReasonRetriesExhausted, Cause: ErrTransportFault})
		return
	}
	s.reconnects++
	s.enterConnecting()
	s.armWatchdog()
	s.openAfter(s.cfg.ReconnectDelay)
}

func (s *Supervisor) enterConnecting() {
	s.transition(Connecting)
	s.host.Publish(events.NewConnecting(s.code, s.reconnects, s.now()))
}

func (s *Supervisor) transition(to State) {
	if !CanTransition(s.state, to) {
		// Callers only request legal edges; reaching here is a bug.
		log.WithFields(logger.Fields{
			"at":     "(Supervisor) transition",
			"code":   s.code,
			"from":   s.state.String(),
			"to":     to.String(),
			"reason": "illegal_transition",
		}).Error("refusing illegal state transition")
		return
	}
	log.WithFields(logger.Fields{
		"at":   "(Supervisor) transition",
		"code": s.code,
		"from": s.state.String(),
		"to":   to.String(),
	}).Debug("state transition")
	s.state = to
}

func (s *Supervisor) armWatchdog() {
	s.stopWatchdog()
	token := s.watchdogGen
	s.watchdog = time.AfterFunc(s.cfg.WatchdogWindow, func() {
		s.host.Post(func() { s.watchdogFired(token) })
	})
}

func (s *Supervisor) stopWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.watchdogGen++
}

func (s *Supervisor) watchdogFired(token uint64) {
	if token != s.watchdogGen || s.state == Linked || s.state == Terminated {
		return
	}
	log.WithFields(logger.Fields{
		"at":     "(Supervisor) watchdogFired",
		"code":   s.code,
		"state":  s.state.String(),
		"window": s.cfg.WatchdogWindow.String(),
		"reason": "watchdog_expired",
	}).Warn("session did not link in time")
	s.watchdog = nil
	s.Terminate(Termination{Reason: ReasonTimeout, Purge: true})
}

func (s *Supervisor) handleIdentity() string {
	if s.handle == nil {
		return ""
	}
	return s.handle.Identity()
}

// enqueueIO queues credential I/O. Operations run in order on one goroutine,
// so a purge always lands after earlier writes.
func (s *Supervisor) enqueueIO(op func(ctx context.Context)) {
	s.ioq <- func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
		defer cancel()
		op(ctx)
	}
}

func (s *Supervisor) runIO() {
	defer close(s.ioDone)
	for op := range s.ioq {
		op()
	}
}

func (s *Supervisor) deliver(reply handler.Replier, in transport.Inbound) {
	d := delivery{msg: handler.Message{Session: s.code, Inbound: in}, reply: reply}
	select {
	case <-s.done:
	case s.inbox <- d:
	default:
		log.WithFields(logger.Fields{
			"at":     "(Supervisor) deliver",
			"code":   s.code,
			"reason": "inbox_full",
		}).Warn("dropping inbound message")
	}
}

func (s *Supervisor) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.inbox:
			s.handleMessage(d)
		}
	}
}

func (s *Supervisor) handleMessage(d delivery) {
	h := s.slot.Load()
	ctx, cancel := context.WithTimeout(context.Background(), messageLimit)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":     "(Supervisor) handleMessage",
				"code":   s.code,
				"panic":  r,
				"reason": "handler_panic",
			}).Error("message handler panicked")
		}
	}()
	if err := h.Handle(ctx, d.msg, d.reply); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "(Supervisor) handleMessage",
			"code": s.code,
			"id":   d.msg.ID,
		}).Warn("message handler failed")
	}
}

func closeHandle(h transport.Handle, code string, timeout time.Duration) {
	done := make(chan error, 1)
	go func() { done <- h.Close() }()
	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).WithField("code", code).Debug("transport close returned an error")
		}
	case <-time.After(timeout):
		log.WithFields(logger.Fields{
			"at":     "closeHandle",
			"code":   code,
			"reason": "close_timeout",
		}).Warn("transport close timed out")
	}
}
