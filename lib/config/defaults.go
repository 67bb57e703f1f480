package config

import (
	"net"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults contains every configuration value of the daemon.
// Defaults() returns the stock values; CurrentConfig() returns the values
// currently in effect.
type ConfigDefaults struct {
	// Session pool limits and timers
	Pool PoolDefaults

	// Per-session transport timers and reconnect budget
	Session SessionDefaults

	// Credential store
	Store StoreDefaults

	// HTTP API
	API APIDefaults

	// Transport adapter
	Transport TransportDefaults

	// Message handlers
	Handler HandlerDefaults
}

// PoolDefaults contains default values for the session pool
type PoolDefaults struct {
	// Capacity is the maximum number of live sessions
	// Default: 50
	Capacity int

	// Cooldown is the minimum interval between accepted link requests of one actor
	// Default: 120 seconds
	Cooldown time.Duration

	// WatchdogWindow bounds how long a session may stay unauthenticated
	// Default: 60 seconds
	WatchdogWindow time.Duration

	// SweepInterval is how often sessions without identity are evicted
	// Default: 60 seconds
	SweepInterval time.Duration

	// LinkTimeout bounds how long a link request waits for the first code
	// Default: 30 seconds
	LinkTimeout time.Duration

	// TombstoneTTL is how long terminated sessions stay visible to status queries
	// Default: 10 minutes
	TombstoneTTL time.Duration

	// RestoreOnStart re-admits stored sessions when the daemon starts
	// Default: true
	RestoreOnStart bool
}

// SessionDefaults contains default values for per-session transport handling
type SessionDefaults struct {
	// OpenTimeout bounds each transport open
	// Default: 15 seconds
	OpenTimeout time.Duration

	// TeardownTimeout bounds transport close and credential I/O
	// Default: 5 seconds
	TeardownTimeout time.Duration

	// ReconnectDelay is waited before every reopen
	// Default: 2 seconds
	ReconnectDelay time.Duration

	// ReconnectBurst is how many reconnects may happen back to back
	// Default: 5
	ReconnectBurst int

	// ReconnectInterval refills one reconnect token
	// Default: 1 minute
	ReconnectInterval time.Duration
}

// StoreDefaults contains default values for credential storage
type StoreDefaults struct {
	// Backend is "dir" or "sqlite"
	// Default: "dir"
	Backend string

	// Path is the root directory of the dir backend
	// Default: $HOME/.linkd/sessions
	Path string

	// SQLitePath is the database file of the sqlite backend
	// Default: $HOME/.linkd/credentials.db
	SQLitePath string

	// Passphrase seals stored credentials when non-empty
	// Default: "" (sealing disabled)
	Passphrase string
}

// APIDefaults contains default values for the HTTP API
type APIDefaults struct {
	// Address is the listen address
	// Default: localhost:7660
	Address string

	// Token is the bearer token required on every route except /metrics
	// Default: "" (no authentication)
	Token string
}

// TransportDefaults contains default values for the transport adapter
type TransportDefaults struct {
	// Kind is "gateway" or "sim"
	// Default: "gateway"
	Kind string

	// GatewayURL is the websocket endpoint of the protocol gateway
	// Default: ws://localhost:7661/link
	GatewayURL string

	// DialTimeout bounds the websocket handshake
	// Default: 10 seconds
	DialTimeout time.Duration
}

// HandlerDefaults contains default values for inbound message handlers
type HandlerDefaults struct {
	// Log writes every inbound message to the debug log
	// Default: true
	Log bool

	// Filter is an expression selecting which messages reach the webhook
	// Default: "" (all messages)
	Filter string

	// WebhookURL receives inbound messages as JSON
	// Default: "" (disabled)
	WebhookURL string

	// WebhookTimeout bounds each webhook call
	// Default: 10 seconds
	WebhookTimeout time.Duration
}

// Defaults returns a ConfigDefaults instance with all default values set.
// This is the single source of truth for all configuration defaults.
func Defaults() ConfigDefaults {
	baseDir := BuildLinkdDirPath()
	return ConfigDefaults{
		Pool:      buildPoolDefaults(),
		Session:   buildSessionDefaults(),
		Store:     buildStoreDefaults(baseDir),
		API:       buildAPIDefaults(),
		Transport: buildTransportDefaults(),
		Handler:   buildHandlerDefaults(),
	}
}

func buildPoolDefaults() PoolDefaults {
	return PoolDefaults{
		Capacity:       50,
		Cooldown:       120 * time.Second,
		WatchdogWindow: 60 * time.Second,
		SweepInterval:  60 * time.Second,
		LinkTimeout:    30 * time.Second,
		TombstoneTTL:   10 * time.Minute,
		RestoreOnStart: true,
	}
}

func buildSessionDefaults() SessionDefaults {
	return SessionDefaults{
		OpenTimeout:       15 * time.Second,
		TeardownTimeout:   5 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectBurst:    5,
		ReconnectInterval: time.Minute,
	}
}

func buildStoreDefaults(baseDir string) StoreDefaults {
	return StoreDefaults{
		Backend:    StoreBackendDir,
		Path:       filepath.Join(baseDir, "sessions"),
		SQLitePath: filepath.Join(baseDir, "credentials.db"),
	}
}

func buildAPIDefaults() APIDefaults {
	return APIDefaults{
		Address: "localhost:7660",
	}
}

func buildTransportDefaults() TransportDefaults {
	return TransportDefaults{
		Kind:        TransportGateway,
		GatewayURL:  "ws://localhost:7661/link",
		DialTimeout: 10 * time.Second,
	}
}

func buildHandlerDefaults() HandlerDefaults {
	return HandlerDefaults{
		Log:            true,
		WebhookTimeout: 10 * time.Second,
	}
}

// Store backends and transport kinds.
const (
	StoreBackendDir    = "dir"
	StoreBackendSQLite = "sqlite"
	TransportGateway   = "gateway"
	TransportSim       = "sim"
)

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")

	validators := []func() error{
		func() error { return validatePool(cfg.Pool) },
		func() error { return validateSession(cfg.Session) },
		func() error { return validateStore(cfg.Store) },
		func() error { return validateAPI(cfg.API) },
		func() error { return validateTransport(cfg.Transport) },
		func() error { return validateHandler(cfg.Handler) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("configuration validation failed")
			return err
		}
	}
	return nil
}

func validatePool(pool PoolDefaults) error {
	switch {
	case pool.Capacity < 1:
		return newValidationError("Pool.Capacity must be at least 1")
	case pool.Cooldown < 0:
		return newValidationError("Pool.Cooldown must not be negative")
	case pool.WatchdogWindow < time.Second:
		return newValidationError("Pool.WatchdogWindow must be at least 1 second")
	case pool.SweepInterval < time.Second:
		return newValidationError("Pool.SweepInterval must be at least 1 second")
	case pool.LinkTimeout <= 0:
		return newValidationError("Pool.LinkTimeout must be positive")
	case pool.TombstoneTTL < 0:
		return newValidationError("Pool.TombstoneTTL must not be negative")
	}
	return nil
}

func validateSession(session SessionDefaults) error {
	switch {
	case session.OpenTimeout <= 0:
		return newValidationError("Session.OpenTimeout must be positive")
	case session.TeardownTimeout <= 0:
		return newValidationError("Session.TeardownTimeout must be positive")
	case session.ReconnectDelay < 0:
		return newValidationError("Session.ReconnectDelay must not be negative")
	case session.ReconnectBurst < 1:
		return newValidationError("Session.ReconnectBurst must be at least 1")
	case session.ReconnectInterval <= 0:
		return newValidationError("Session.ReconnectInterval must be positive")
	}
	return nil
}

func validateStore(store StoreDefaults) error {
	switch store.Backend {
	case StoreBackendDir:
		if store.Path == "" {
			return newValidationError("Store.Path must be set for the dir backend")
		}
	case StoreBackendSQLite:
		if store.SQLitePath == "" {
			return newValidationError("Store.SQLitePath must be set for the sqlite backend")
		}
	default:
		return newValidationError("Store.Backend must be \"dir\" or \"sqlite\"")
	}
	return nil
}

func validateAPI(api APIDefaults) error {
	if api.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(api.Address); err != nil {
		return newValidationError("API.Address must be host:port: " + err.Error())
	}
	return nil
}

func validateTransport(transport TransportDefaults) error {
	switch transport.Kind {
	case TransportSim:
		return nil
	case TransportGateway:
	default:
		return newValidationError("Transport.Kind must be \"gateway\" or \"sim\"")
	}
	u, err := url.Parse(transport.GatewayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return newValidationError("Transport.GatewayURL must be a ws:// or wss:// URL")
	}
	if transport.DialTimeout <= 0 {
		return newValidationError("Transport.DialTimeout must be positive")
	}
	return nil
}

func validateHandler(handler HandlerDefaults) error {
	if handler.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(handler.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newValidationError("Handler.WebhookURL must be an http:// or https:// URL")
	}
	if handler.WebhookTimeout <= 0 {
		return newValidationError("Handler.WebhookTimeout must be positive")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
