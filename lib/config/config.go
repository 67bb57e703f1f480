package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-linkd/lib/util"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const LINKD_BASE_DIR = ".linkd"

// InitConfig loads defaults and the config file. Without --config a default
// file is created in the base directory on first start.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildLinkdDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	return handleConfigFile()
}

// Durations are stored as strings so the written config file stays readable.
func setDefaults() {
	d := Defaults()

	viper.SetDefault("pool.capacity", d.Pool.Capacity)
	viper.SetDefault("pool.cooldown", d.Pool.Cooldown.String())
	viper.SetDefault("pool.watchdog_window", d.Pool.WatchdogWindow.String())
	viper.SetDefault("pool.sweep_interval", d.Pool.SweepInterval.String())
	viper.SetDefault("pool.link_timeout", d.Pool.LinkTimeout.String())
	viper.SetDefault("pool.tombstone_ttl", d.Pool.TombstoneTTL.String())
	viper.SetDefault("pool.restore_on_start", d.Pool.RestoreOnStart)

	viper.SetDefault("session.open_timeout", d.Session.OpenTimeout.String())
	viper.SetDefault("session.teardown_timeout", d.Session.TeardownTimeout.String())
	viper.SetDefault("session.reconnect_delay", d.Session.ReconnectDelay.String())
	viper.SetDefault("session.reconnect_burst", d.Session.ReconnectBurst)
	viper.SetDefault("session.reconnect_interval", d.Session.ReconnectInterval.String())

	viper.SetDefault("store.backend", d.Store.Backend)
	viper.SetDefault("store.path", d.Store.Path)
	viper.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	viper.SetDefault("store.passphrase", d.Store.Passphrase)

	viper.SetDefault("api.address", d.API.Address)
	viper.SetDefault("api.token", d.API.Token)

	viper.SetDefault("transport.kind", d.Transport.Kind)
	viper.SetDefault("transport.gateway_url", d.Transport.GatewayURL)
	viper.SetDefault("transport.dial_timeout", d.Transport.DialTimeout.String())

	viper.SetDefault("handler.log", d.Handler.Log)
	viper.SetDefault("handler.filter", d.Handler.Filter)
	viper.SetDefault("handler.webhook_url", d.Handler.WebhookURL)
	viper.SetDefault("handler.webhook_timeout", d.Handler.WebhookTimeout.String())
}

// CurrentConfig reads the configuration currently in effect from viper.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Pool: PoolDefaults{
			Capacity:       viper.GetInt("pool.capacity"),
			Cooldown:       viper.GetDuration("pool.cooldown"),
			WatchdogWindow: viper.GetDuration("pool.watchdog_window"),
			SweepInterval:  viper.GetDuration("pool.sweep_interval"),
			LinkTimeout:    viper.GetDuration("pool.link_timeout"),
			TombstoneTTL:   viper.GetDuration("pool.tombstone_ttl"),
			RestoreOnStart: viper.GetBool("pool.restore_on_start"),
		},
		Session: SessionDefaults{
			OpenTimeout:       viper.GetDuration("session.open_timeout"),
			TeardownTimeout:   viper.GetDuration("session.teardown_timeout"),
			ReconnectDelay:    viper.GetDuration("session.reconnect_delay"),
			ReconnectBurst:    viper.GetInt("session.reconnect_burst"),
			ReconnectInterval: viper.GetDuration("session.reconnect_interval"),
		},
		Store: StoreDefaults{
			Backend:    viper.GetString("store.backend"),
			Path:       util.ExpandHome(viper.GetString("store.path")),
			SQLitePath: util.ExpandHome(viper.GetString("store.sqlite_path")),
			Passphrase: viper.GetString("store.passphrase"),
		},
		API: APIDefaults{
			Address: viper.GetString("api.address"),
			Token:   viper.GetString("api.token"),
		},
		Transport: TransportDefaults{
			Kind:        viper.GetString("transport.kind"),
			GatewayURL:  viper.GetString("transport.gateway_url"),
			DialTimeout: viper.GetDuration("transport.dial_timeout"),
		},
		Handler: HandlerDefaults{
			Log:            viper.GetBool("handler.log"),
			Filter:         viper.GetString("handler.filter"),
			WebhookURL:     viper.GetString("handler.webhook_url"),
			WebhookTimeout: viper.GetDuration("handler.webhook_timeout"),
		},
	}
}

// WatchConfig calls onChange with the new configuration whenever the config
// file is written. Invalid edits are logged and skipped.
func WatchConfig(onChange func(fsnotify.Event, ConfigDefaults)) {
	viper.OnConfigChange(func(ev fsnotify.Event) {
		cfg := CurrentConfig()
		if err := Validate(cfg); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "WatchConfig",
				"file":   ev.Name,
				"reason": "invalid_config_edit",
			}).Warn("ignoring invalid config change")
			return
		}
		log.WithFields(logger.Fields{
			"at":   "WatchConfig",
			"file": ev.Name,
			"op":   ev.Op.String(),
		}).Info("config file changed")
		onChange(ev, cfg)
	})
	viper.WatchConfig()
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := util.EnsureDir(defaultConfigDir); err != nil {
		return err
	}
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "write default config %s", defaultConfigFile)
	}
	viper.SetConfigFile(defaultConfigFile)
	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	switch {
	case CfgFile != "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		return oops.Wrapf(err, "config file %s not found", CfgFile)
	case errors.As(err, &notFound):
		return createDefaultConfig(BuildLinkdDirPath())
	default:
		return oops.Wrapf(err, "read config file")
	}
}

// BuildLinkdDirPath returns $HOME/.linkd.
func BuildLinkdDirPath() string {
	return filepath.Join(util.UserHome(), LINKD_BASE_DIR)
}
