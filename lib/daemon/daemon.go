package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/api"
	"github.com/go-i2p/go-linkd/lib/config"
	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/events"
	"github.com/go-i2p/go-linkd/lib/metrics"
	"github.com/go-i2p/go-linkd/lib/pool"
	"github.com/go-i2p/go-linkd/lib/transport"
	"github.com/go-i2p/go-linkd/lib/util"
	"github.com/go-i2p/go-linkd/lib/util/signals"
)

var log = logger.GetGoI2PLogger()

// Option configures a Daemon.
type Option func(*Daemon)

// WithConfigSource makes Reload re-read the configuration from source
// instead of reusing the configuration the daemon was built with.
func WithConfigSource(source func() config.ConfigDefaults) Option {
	return func(d *Daemon) { d.source = source }
}

// WithOpener replaces the transport selected by the configuration.
func WithOpener(o transport.Opener) Option {
	return func(d *Daemon) { d.opener = o }
}

// WithSink adds a subscriber for every lifecycle event.
func WithSink(s events.Sink) Option {
	return func(d *Daemon) { d.extraSinks = append(d.extraSinks, s) }
}

// Daemon owns every long-lived component of the service.
type Daemon struct {
	source     func() config.ConfigDefaults
	extraSinks []events.Sink

	mu  sync.Mutex
	cfg config.ConfigDefaults

	closers  util.Closers
	store    credentials.Store
	opener   transport.Opener
	bus      *events.Bus
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *pool.Pool
	api      *api.Server
	signals  *signals.Dispatcher

	stopOnce sync.Once
}

// New validates cfg and builds every component. Nothing listens or runs
// timers until Start.
func New(cfg config.ConfigDefaults, opts ...Option) (*Daemon, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	d := &Daemon{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}

	store, err := OpenStore(cfg.Store, &d.closers)
	if err != nil {
		return nil, err
	}
	d.store = store

	if d.opener == nil {
		if d.opener, err = newOpener(cfg.Transport); err != nil {
			d.closeResources()
			return nil, err
		}
	}

	factory, err := handlerFactory(cfg.Handler)
	if err != nil {
		d.closeResources()
		return nil, oops.Wrapf(err, "build message handlers")
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = metrics.New(d.registry)

	d.bus = events.NewBus()
	for _, s := range d.extraSinks {
		d.bus.SubscribeAll(s.Publish)
	}

	d.pool = pool.New(poolConfig(cfg), d.opener, d.store,
		pool.WithSink(d.bus),
		pool.WithMetrics(d.metrics),
		pool.WithHandlerFactory(factory),
	)

	d.api, err = api.NewServer(api.Config{
		Address:         cfg.API.Address,
		Token:           cfg.API.Token,
		ShutdownTimeout: cfg.Session.TeardownTimeout,
	}, d.pool, api.WithReload(d.Reload), api.WithGatherer(d.registry))
	if err != nil {
		d.closeResources()
		return nil, err
	}
	d.bus.SubscribeAll(d.api.Hub().Publish)

	d.signals = signals.New(signals.DefaultDrainTimeout)
	d.signals.On(signals.Reload, func() {
		if err := d.Reload(context.Background()); err != nil {
			log.WithError(err).WithField("at", "(Daemon) reloadSignal").Error("reload failed")
		}
	})
	d.signals.On(signals.Drain, d.drain)
	d.signals.On(signals.Interrupt, d.closeResources)
	return d, nil
}

// Start restores stored sessions when configured, schedules the sweep and
// starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.config()
	if cfg.Pool.RestoreOnStart {
		n, err := d.pool.Restore(ctx)
		if err != nil {
			return oops.Wrapf(err, "restore stored sessions")
		}
		log.WithFields(logger.Fields{
			"at":       "(Daemon) Start",
			"restored": n,
		}).Info("stored sessions restored")
	}
	d.pool.Start()

	if cfg.API.Address != "" {
		if err := d.api.Start(); err != nil {
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":        "(Daemon) Start",
		"api":       cfg.API.Address,
		"transport": cfg.Transport.Kind,
		"store":     cfg.Store.Backend,
	}).Info("linkd started")
	return nil
}

// Run starts the daemon and serves until a stop signal arrives or ctx ends,
// then drains the pool and releases every resource.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return err
	}
	d.signals.Run(ctx)
	return nil
}

// Stop drains and closes the daemon. Safe to call more than once.
func (d *Daemon) Stop() {
	d.signals.Shutdown()
}

// Reload rebuilds the message handlers from the current configuration and
// swaps them into every live session. Other settings need a restart.
func (d *Daemon) Reload(ctx context.Context) error {
	cfg := d.config()
	if d.source != nil {
		next := d.source()
		if err := config.Validate(next); err != nil {
			return oops.Wrapf(err, "reload")
		}
		cfg.Handler = next.Handler
	}
	return d.ApplyHandlers(ctx, cfg.Handler)
}

// ApplyHandlers installs handlers built from hc.
func (d *Daemon) ApplyHandlers(ctx context.Context, hc config.HandlerDefaults) error {
	factory, err := handlerFactory(hc)
	if err != nil {
		return oops.Wrapf(err, "build message handlers")
	}
	if err := d.pool.Reload(ctx, factory); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg.Handler = hc
	d.mu.Unlock()
	return nil
}

// Pool exposes the session pool.
func (d *Daemon) Pool() *pool.Pool { return d.pool }

// API exposes the HTTP server.
func (d *Daemon) API() *api.Server { return d.api }

// Registry is the Prometheus registry served on /metrics.
func (d *Daemon) Registry() *prometheus.Registry { return d.registry }

func (d *Daemon) config() config.ConfigDefaults {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Daemon) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), signals.DefaultDrainTimeout)
	defer cancel()
	if err := d.pool.Shutdown(ctx); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
		log.WithError(err).WithField("at", "(Daemon) drain").Warn("pool shutdown incomplete")
	}
}

func (d *Daemon) closeResources() {
	d.stopOnce.Do(func() {
		if d.api != nil {
			d.api.Stop()
		}
		if err := d.closers.CloseAll(); err != nil {
			log.WithError(err).WithField("at", "(Daemon) closeResources").Warn("failed to close resources")
		}
		log.WithField("at", "(Daemon) closeResources").Info("linkd stopped")
	})
}
