// Package config provides configuration management for the linkd daemon.
//
// # Configuration Sources
//
// Settings are read through viper from, in order of precedence: explicit
// viper.Set calls (command-line flags), the YAML config file and the defaults
// returned by Defaults(). The config file lives at $HOME/.linkd/config.yaml
// unless --config names another path; a default file is written on first
// start.
//
// # Sections
//
//   - pool: capacity, cooldown, watchdog window, sweep interval, link
//     timeout, tombstone TTL, restore on start
//   - session: transport open/teardown timeouts and reconnect budget
//   - store: credential backend ("dir" or "sqlite"), paths, passphrase
//   - api: HTTP listen address and bearer token
//   - transport: "gateway" or "sim", gateway URL, dial timeout
//   - handler: log, filter expression, webhook forwarder
//
// Edits to the config file are picked up by WatchConfig; the daemon uses it
// to rebuild message handlers without restarting sessions.
package config
