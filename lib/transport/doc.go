// Package transport defines the capability the orchestrator consumes to talk
// to the external chat gateway.
//
// # Overview
//
// The wire protocol itself is not implemented here. A transport is anything
// that can open one persistent connection per session and report what happens
// on it:
//   - Opener: opens a Handle for a session code, optionally with stored credentials
//   - Handle: a single live connection; emits Events and accepts Send requests
//   - DisconnectReason: the numeric close reason reported by the gateway
//
// Two adapters ship with the module:
//   - lib/transport/sim: an in-process simulator used by tests and development
//   - lib/transport/gateway: a websocket client for a protocol gateway sidecar
//
// # Events
//
// A Handle emits, in order:
//
//	EventCodeReady          a QR payload or pairing code to show the user
//	EventCredentialUpgrade  the user completed the handshake; persist these bytes
//	EventOpen               the connection is authenticated; Identity is set
//	EventClose              the connection closed; Reason says why
//	EventMessage            an inbound chat message
//
// The Events channel is closed after the final EventClose or after Close.
//
// # Ownership
//
// A Handle belongs to exactly one session. Close is idempotent and must not
// block for longer than the adapter's own teardown bound.
package transport
