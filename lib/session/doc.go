// Package session supervises one linked chat account.
//
// A Supervisor owns exactly one transport.Handle at a time and drives the
// session state machine:
//
//	Creating ──code──▶ AwaitingQr / AwaitingPairing ──upgrade──▶ Connecting ──open──▶ Linked
//	Creating ──stored credentials──────────────────────────────▶ Connecting
//	Connecting / Linked ──close──▶ Disconnected ──classifier──▶ Connecting | Terminated
//	any ──delete / watchdog / sweep / replacement──▶ Terminated
//
// Terminated is absorbing. Every transition publishes exactly one lifecycle
// event through the Host.
//
// # Threading
//
// Supervisor methods are not safe for concurrent use. The owning pool runs
// them on its event loop and implements Host.Post so that transport events,
// timer firings and I/O completions are funnelled back onto that loop.
// SetHandler and Code are the exceptions and may be called from anywhere.
//
// Inbound messages bypass the loop: each Supervisor delivers them in order to
// its current handler on a dedicated goroutine.
package session
