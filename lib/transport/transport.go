package transport

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Method selects how the external account completes the handshake.
type Method string

const (
	// MethodQR shows a scannable code.
	MethodQR Method = "qr"
	// MethodPairing shows a numeric pairing code bound to a target address.
	MethodPairing Method = "pairing"
)

// ParseMethod converts user input to a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodQR, MethodPairing:
		return Method(s), nil
	case "":
		return MethodQR, nil
	default:
		return "", oops.Errorf("unknown link method %q", s)
	}
}

// OpenRequest describes the connection a session wants.
type OpenRequest struct {
	// Code is the session code, also the credential store key.
	Code string
	// Credentials holds stored authentication material, nil for a fresh link.
	Credentials []byte
	Method      Method
	// TargetAddress is required for MethodPairing.
	TargetAddress string
}

// Validate checks the request before any I/O is attempted.
func (r OpenRequest) Validate() error {
	if r.Code == "" {
		return oops.Wrapf(ErrInvalidRequest, "missing session code")
	}
	if r.Credentials == nil && r.Method == MethodPairing && r.TargetAddress == "" {
		return oops.Wrapf(ErrInvalidRequest, "pairing requires a target address")
	}
	return nil
}

// Opener opens transport handles.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (Handle, error)
}

// Handle is one live connection owned by one session.
type Handle interface {
	// Events returns the lifecycle and message stream. It is closed when the
	// handle is finished.
	Events() <-chan Event
	// Identity returns the linked account address, or "" while unauthenticated
	// or after the connection dropped.
	Identity() string
	Send(ctx context.Context, msg Outbound) error
	Close() error
}

// EventKind tags an Event.
type EventKind int

const (
	EventCodeReady EventKind = iota
	EventCredentialUpgrade
	EventOpen
	EventClose
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventCodeReady:
		return "code_ready"
	case EventCredentialUpgrade:
		return "credential_upgrade"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is emitted by a Handle. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	// Payload is the QR content or pairing code for EventCodeReady.
	Payload string
	// Credentials carries the upgraded authentication material.
	Credentials []byte
	// Identity is the linked address for EventOpen.
	Identity string
	// Reason and OperatorRequested describe an EventClose.
	Reason            DisconnectReason
	OperatorRequested bool
	Message           *Inbound
}

// Inbound is a chat message received on a handle.
type Inbound struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Chat      string    `json:"chat"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Outbound is a message to send on a handle.
type Outbound struct {
	To      string `json:"to"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}
