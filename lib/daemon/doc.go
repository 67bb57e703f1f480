// Package daemon assembles the linkd service from its configuration: the
// credential store, the transport, the session pool, the HTTP API and the
// signal handlers that reload handlers and drain the pool on shutdown.
package daemon
