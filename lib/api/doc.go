// Package api exposes the session pool over HTTP.
//
// Routes:
//
//	POST   /link                  admit a session and return its first code
//	DELETE /session/:code         terminate a session and purge its credentials
//	GET    /session/:code/status  status of a live or recently ended session
//	GET    /sessions              all live sessions
//	POST   /reload                rebuild message handlers
//	GET    /events                websocket stream of lifecycle events
//	GET    /metrics               Prometheus exposition
//
// When a token is configured every route except /metrics requires
// "Authorization: Bearer <token>". Browsers cannot set headers on websocket
// upgrades, so /events also accepts the token as a "token" query parameter.
package api
