package session

import "errors"

var (
	// ErrCredentialInvalid means the stored credentials were revoked or
	// rejected. The account must be linked again.
	ErrCredentialInvalid = errors.New("credentials invalid, re-link required")

	// ErrTransportFault means the transport could not be (re)established
	// within the reconnect budget.
	ErrTransportFault = errors.New("transport fault")

	// ErrTerminated is reported to code waiters when the session ends for
	// any other reason before a code was issued.
	ErrTerminated = errors.New("session terminated")
)

// Removal reason codes published in Removed events. Disconnect-driven
// terminations use the transport reason name instead.
const (
	ReasonDeleted          = "deleted"
	ReasonTimeout          = "timeout"
	ReasonSweep            = "sweep"
	ReasonReplaced         = "replaced"
	ReasonOperator         = "operator"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonInvalidRequest   = "invalid_request"
	ReasonShutdown         = "shutdown"
)

// Termination describes why a session ends.
type Termination struct {
	Reason string
	// Purge removes the session's stored credentials.
	Purge bool
	// Cause is reported to callers still waiting for a code.
	Cause error
}
