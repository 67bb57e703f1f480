package daemon

import (
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/config"
	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/handler"
	"github.com/go-i2p/go-linkd/lib/pool"
	"github.com/go-i2p/go-linkd/lib/session"
	"github.com/go-i2p/go-linkd/lib/transport"
	"github.com/go-i2p/go-linkd/lib/transport/gateway"
	"github.com/go-i2p/go-linkd/lib/transport/sim"
	"github.com/go-i2p/go-linkd/lib/util"
)

// OpenStore opens the configured credential backend. Backends holding
// resources are added to closers.
func OpenStore(cfg config.StoreDefaults, closers *util.Closers) (credentials.Store, error) {
	var opts []credentials.Option
	if cfg.Passphrase != "" {
		sealer, err := credentials.NewSealer(cfg.Passphrase, credentials.DefaultSalt)
		if err != nil {
			return nil, oops.Wrapf(err, "create credential sealer")
		}
		opts = append(opts, credentials.WithSealer(sealer))
	}

	switch cfg.Backend {
	case config.StoreBackendSQLite:
		st, err := credentials.NewSQLiteStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, oops.Wrapf(err, "open sqlite store %s", cfg.SQLitePath)
		}
		closers.Add(st)
		return st, nil
	case config.StoreBackendDir, "":
		st, err := credentials.NewDirStore(cfg.Path, opts...)
		if err != nil {
			return nil, oops.Wrapf(err, "open credential directory %s", cfg.Path)
		}
		return st, nil
	default:
		return nil, oops.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newOpener(cfg config.TransportDefaults) (transport.Opener, error) {
	switch cfg.Kind {
	case config.TransportSim:
		return sim.New(sim.Options{AutoCode: true, AutoOpen: true}), nil
	case config.TransportGateway, "":
		return gateway.New(gateway.Config{
			URL:         cfg.GatewayURL,
			DialTimeout: cfg.DialTimeout,
		}), nil
	default:
		return nil, oops.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func poolConfig(cfg config.ConfigDefaults) pool.Config {
	return pool.Config{
		Capacity:      cfg.Pool.Capacity,
		Cooldown:      cfg.Pool.Cooldown,
		SweepInterval: cfg.Pool.SweepInterval,
		LinkTimeout:   cfg.Pool.LinkTimeout,
		TombstoneTTL:  cfg.Pool.TombstoneTTL,
		Session: session.Config{
			WatchdogWindow:    cfg.Pool.WatchdogWindow,
			OpenTimeout:       cfg.Session.OpenTimeout,
			TeardownTimeout:   cfg.Session.TeardownTimeout,
			ReconnectDelay:    cfg.Session.ReconnectDelay,
			ReconnectBurst:    cfg.Session.ReconnectBurst,
			ReconnectInterval: cfg.Session.ReconnectInterval,
		},
	}
}

func handlerFactory(cfg config.HandlerDefaults) (handler.Factory, error) {
	return handler.BuildFactory(handler.Options{
		Log:            cfg.Log,
		Filter:         cfg.Filter,
		WebhookURL:     cfg.WebhookURL,
		WebhookTimeout: cfg.WebhookTimeout,
	})
}
