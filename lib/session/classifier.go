package session

import "github.com/go-i2p/go-linkd/lib/transport"

// Action is the classifier's verdict for a disconnect.
type Action int

const (
	Reconnect Action = iota
	Terminate
)

func (a Action) String() string {
	if a == Terminate {
		return "terminate"
	}
	return "reconnect"
}

// Decision is the outcome of classifying a disconnect.
type Decision struct {
	Action Action
	// PurgeCredentials is set when the stored credentials are no longer usable.
	PurgeCredentials bool
	// Reason is the removal reason code used if the session terminates.
	Reason string
	// Known is false for reason codes missing from the table.
	Known bool
}

// Termination converts a terminating decision.
func (d Decision) Termination() Termination {
	t := Termination{Reason: d.Reason, Purge: d.PurgeCredentials}
	switch {
	case d.PurgeCredentials:
		t.Cause = ErrCredentialInvalid
	case d.Reason != ReasonOperator:
		t.Cause = ErrTransportFault
	}
	return t
}

func reconnect(r transport.DisconnectReason) Decision {
	return Decision{Action: Reconnect, Reason: r.String(), Known: true}
}

func terminate(r transport.DisconnectReason, purge bool) Decision {
	return Decision{Action: Terminate, PurgeCredentials: purge, Reason: r.String(), Known: true}
}

// classification covers every documented reason code.
var classification = map[transport.DisconnectReason]Decision{
	transport.ReasonConnectionReplaced:  terminate(transport.ReasonConnectionReplaced, false),
	transport.ReasonLoggedOut:           terminate(transport.ReasonLoggedOut, true),
	transport.ReasonForbidden:           terminate(transport.ReasonForbidden, true),
	transport.ReasonBadSession:          terminate(transport.ReasonBadSession, true),
	transport.ReasonMultideviceMismatch: terminate(transport.ReasonMultideviceMismatch, true),
	transport.ReasonConnectionClosed:    reconnect(transport.ReasonConnectionClosed),
	transport.ReasonConnectionLost:      reconnect(transport.ReasonConnectionLost),
	transport.ReasonRestartRequired:     reconnect(transport.ReasonRestartRequired),
	transport.ReasonUnavailableService:  reconnect(transport.ReasonUnavailableService),
}

// Classify decides what to do after a disconnect. An operator-requested
// disconnect always terminates; unknown codes reconnect and leave the
// watchdog to bound the attempt.
func Classify(reason transport.DisconnectReason, operatorRequested bool) Decision {
	if operatorRequested {
		return Decision{Action: Terminate, Reason: ReasonOperator, Known: true}
	}
	if d, ok := classification[reason]; ok {
		return d
	}
	return Decision{Action: Reconnect, Reason: reason.String()}
}
