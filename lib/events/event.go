package events

import "time"

// Type names an event variant on the wire.
type Type string

const (
	TypeCodeReady    Type = "codeReady"
	TypeConnecting   Type = "connecting"
	TypeLinked       Type = "linked"
	TypeDisconnected Type = "disconnected"
	TypeRemoved      Type = "removed"
)

// Event is implemented only by the variants in this package.
type Event interface {
	EventType() Type
	SessionCode() string
	OccurredAt() time.Time
	isEvent()
}

type base struct {
	Code string
	At   time.Time
}

func (b base) SessionCode() string   { return b.Code }
func (b base) OccurredAt() time.Time { return b.At }
func (base) isEvent()                {}

// CodeReady carries a QR payload or pairing code to show the user. It is
// emitted again each time the gateway refreshes the code.
type CodeReady struct {
	base
	Method  string
	Payload string
}

func (CodeReady) EventType() Type { return TypeCodeReady }

// Connecting is emitted when the session starts authenticating with fresh
// or stored credentials.
type Connecting struct {
	base
	Attempt int
}

func (Connecting) EventType() Type { return TypeConnecting }

// Linked is emitted once the connection is authenticated.
type Linked struct {
	base
	Identity string
}

func (Linked) EventType() Type { return TypeLinked }

// Disconnected is emitted when an open or authenticating connection closes.
type Disconnected struct {
	base
	ReasonCode int
	Reason     string
}

func (Disconnected) EventType() Type { return TypeDisconnected }

// Removed is the last event of every session.
type Removed struct {
	base
	Reason string
}

func (Removed) EventType() Type { return TypeRemoved }

func NewCodeReady(code, method, payload string, at time.Time) CodeReady {
	return CodeReady{base: base{Code: code, At: at}, Method: method, Payload: payload}
}

func NewConnecting(code string, attempt int, at time.Time) Connecting {
	return Connecting{base: base{Code: code, At: at}, Attempt: attempt}
}

func NewLinked(code, identity string, at time.Time) Linked {
	return Linked{base: base{Code: code, At: at}, Identity: identity}
}

func NewDisconnected(code string, reasonCode int, reason string, at time.Time) Disconnected {
	return Disconnected{base: base{Code: code, At: at}, ReasonCode: reasonCode, Reason: reason}
}

func NewRemoved(code, reason string, at time.Time) Removed {
	return Removed{base: base{Code: code, At: at}, Reason: reason}
}
