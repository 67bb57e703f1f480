package session

import (
	"time"

	"github.com/go-i2p/go-linkd/lib/transport"
)

// Status is a point-in-time view of a session.
type Status struct {
	Code           string           `json:"code"`
	State          State            `json:"state"`
	Method         transport.Method `json:"method"`
	LinkedIdentity string           `json:"linkedIdentity,omitempty"`
	RequestedBy    string           `json:"requestedBy"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastEventAt    time.Time        `json:"lastEventAt"`
	Reconnects     int              `json:"reconnects"`
	// Reason is set once the session is Terminated.
	Reason string `json:"reason,omitempty"`
}

// Status returns a snapshot. Loop-confined like the other methods.
func (s *Supervisor) Status() Status {
	st := Status{
		Code:           s.code,
		State:          s.state,
		Method:         s.method,
		LinkedIdentity: s.identity,
		RequestedBy:    s.requestedBy,
		CreatedAt:      s.createdAt,
		LastEventAt:    s.lastEventAt,
		Reconnects:     s.reconnects,
	}
	if s.state == Terminated {
		st.Reason = s.ended.Reason
	}
	return st
}
