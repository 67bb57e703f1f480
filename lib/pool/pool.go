// Package pool keeps the registry of running sessions. It admits link
// requests under a capacity ceiling and a per-actor cooldown, sweeps dead
// sessions, restores stored ones at startup and swaps handlers on reload.
//
// All registry state is owned by a single event loop goroutine; the public
// methods post work onto it and wait for the result.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/robfig/cron/v3"

	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/events"
	"github.com/go-i2p/go-linkd/lib/handler"
	"github.com/go-i2p/go-linkd/lib/metrics"
	"github.com/go-i2p/go-linkd/lib/session"
	"github.com/go-i2p/go-linkd/lib/transport"
)

var log = logger.GetGoI2PLogger()

// opsBuffer bounds queued loop operations before Post blocks.
const opsBuffer = 256

// Config defines the pool limits and timers.
type Config struct {
	// Capacity is the maximum number of live sessions.
	Capacity int
	// Cooldown is the minimum interval between accepted requests per actor.
	Cooldown time.Duration
	// SweepInterval is how often identity-less sessions are evicted.
	SweepInterval time.Duration
	// LinkTimeout bounds how long RequestLink waits for the first code.
	LinkTimeout time.Duration
	// TombstoneTTL is how long a terminated session's status is kept.
	TombstoneTTL time.Duration
	// Session holds the per-session timers.
	Session session.Config
}

// DefaultConfig returns the stock pool configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      50,
		Cooldown:      120 * time.Second,
		SweepInterval: 60 * time.Second,
		LinkTimeout:   30 * time.Second,
		TombstoneTTL:  10 * time.Minute,
		Session:       session.DefaultConfig(),
	}
}

// Option customizes a Pool.
type Option func(*Pool)

// WithSink sets where lifecycle events are published.
func WithSink(sink events.Sink) Option {
	return func(p *Pool) { p.sink = sink }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock replaces time.Now for cooldowns, tombstones and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithHandlerFactory sets the factory used for new sessions.
func WithHandlerFactory(f handler.Factory) Option {
	return func(p *Pool) { p.factory = f }
}

type tombstone struct {
	status  session.Status
	expires time.Time
}

// Pool supervises every session of the process.
type Pool struct {
	cfg     Config
	opener  transport.Opener
	store   credentials.Store
	sink    events.Sink
	metrics *metrics.Metrics
	now     func() time.Time

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	quitOnce sync.Once

	cronMu sync.Mutex
	cron   *cron.Cron

	// Loop-confined.
	factory    handler.Factory
	sessions   map[string]*session.Supervisor
	cooldowns  map[string]time.Time
	tombstones map[string]tombstone
	flushing   []<-chan struct{}
	closed     bool
}

// New creates a pool and starts its event loop. Call Start to schedule the
// sweep and Shutdown to stop.
func New(cfg Config, opener transport.Opener, store credentials.Store, opts ...Option) *Pool {
	p := &Pool{
		cfg:        cfg,
		opener:     opener,
		store:      store,
		sink:       events.Discard,
		now:        time.Now,
		factory:    handler.NopFactory,
		ops:        make(chan func(), opsBuffer),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		sessions:   make(map[string]*session.Supervisor),
		cooldowns:  make(map[string]time.Time),
		tombstones: make(map[string]tombstone),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.SetCapacity(cfg.Capacity)

	log.WithFields(logger.Fields{
		"at":        "(Pool) New",
		"capacity":  cfg.Capacity,
		"cooldown":  cfg.Cooldown.String(),
		"watchdog":  cfg.Session.WatchdogWindow.String(),
		"sweep":     cfg.SweepInterval.String(),
		"tombstone": cfg.TombstoneTTL.String(),
	}).Debug("session pool created")

	go p.run()
	return p
}

// Start schedules the periodic sweep.
func (p *Pool) Start() {
	if p.cfg.SweepInterval <= 0 {
		return
	}
	p.cronMu.Lock()
	defer p.cronMu.Unlock()
	if p.cron != nil {
		return
	}
	c := cron.New()
	c.Schedule(cron.Every(p.cfg.SweepInterval), cron.FuncJob(func() {
		if _, err := p.Sweep(context.Background()); err != nil {
			log.WithError(err).WithField("at", "(Pool) sweepJob").Debug("scheduled sweep skipped")
		}
	}))
	c.Start()
	p.cron = c
	log.WithField("interval", p.cfg.SweepInterval.String()).Debug("sweep scheduled")
}

func (p *Pool) stopCron() {
	p.cronMu.Lock()
	c := p.cron
	p.cron = nil
	p.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (p *Pool) run() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.quit:
			return
		case fn := <-p.ops:
			p.safeRun(fn)
		}
	}
}

func (p *Pool) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":     "(Pool) safeRun",
				"panic":  fmt.Sprint(r),
				"reason": "loop_panic",
			}).Error("recovered panic in pool loop")
		}
	}()
	fn()
	p.observeStates()
}

// post queues fn on the loop. It returns false once the pool has stopped.
func (p *Pool) post(fn func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.ops <- fn:
		return true
	case <-p.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (p *Pool) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !p.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrPoolClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		select {
		case <-done:
			return nil
		default:
			return ErrPoolClosed
		}
	}
}

// commit is call for operations with side effects. fn either runs to
// completion with a nil return, or never runs and the error says why.
func (p *Pool) commit(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var claimed atomic.Bool
	done := make(chan struct{})
	if !p.post(func() {
		defer close(done)
		if claimed.CompareAndSwap(false, true) {
			fn()
		}
	}) {
		return ErrPoolClosed
	}
	var abort error
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		abort = ctx.Err()
	case <-p.quit:
		abort = ErrPoolClosed
	}
	if claimed.CompareAndSwap(false, true) {
		return abort
	}
	<-done
	return nil
}

func (p *Pool) observeStates() {
	if p.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, s := range p.sessions {
		counts[s.State().String()]++
	}
	p.metrics.SetSessions(counts)
}

// spawn registers and starts a supervisor. Must run on the loop.
func (p *Pool) spawn(code, actor string, method transport.Method, target string, creds []byte) *session.Supervisor {
	s := session.New(session.Params{
		Code:          code,
		RequestedBy:   actor,
		Method:        method,
		TargetAddress: target,
		Credentials:   creds,
		Opener:        p.opener,
		Store:         p.store,
		Host:          host{p},
		Handler:       p.factory(code),
		Config:        p.cfg.Session,
		Now:           p.now,
	})
	p.sessions[code] = s
	delete(p.tombstones, code)
	s.Start()
	return s
}

// host adapts the pool to session.Host.
type host struct{ p *Pool }

func (h host) Post(fn func()) bool { return h.p.post(fn) }

func (h host) Publish(ev events.Event) {
	h.p.metrics.Observe(ev)
	h.p.sink.Publish(ev)
}

// Linked enforces that one identity is held by one session: older sessions
// linked to the same identity are replaced.
func (h host) Linked(s *session.Supervisor) {
	for code, other := range h.p.sessions {
		if other == s || other.State() != session.Linked || other.Identity() != s.Identity() {
			continue
		}
		log.WithFields(logger.Fields{
			"at":       "(host) Linked",
			"code":     code,
			"newer":    s.Code(),
			"identity": s.Identity(),
			"reason":   session.ReasonReplaced,
		}).Info("identity linked by a newer session, replacing")
		other.Terminate(session.Termination{Reason: session.ReasonReplaced, Purge: true})
	}
}

func (h host) Terminated(s *session.Supervisor, _ session.Termination) {
	p := h.p
	code := s.Code()
	if p.sessions[code] == s {
		delete(p.sessions, code)
	}
	p.tombstones[code] = tombstone{status: s.Status(), expires: p.now().Add(p.cfg.TombstoneTTL)}
	p.flushing = append(unflushed(p.flushing), s.IODone())
}

// unflushed drops the channels that are already closed.
func unflushed(chs []<-chan struct{}) []<-chan struct{} {
	out := chs[:0]
	for _, ch := range chs {
		select {
		case <-ch:
		default:
			out = append(out, ch)
		}
	}
	return out
}
