package gateway

import (
	"github.com/go-i2p/go-linkd/lib/transport"
)

// Frame types sent to the gateway.
const (
	frameOpen = "open"
	frameSend = "send"
)

// Frame types received from the gateway.
const (
	frameCode    = "code"
	frameCreds   = "creds"
	frameLinked  = "open"
	frameClose   = "close"
	frameMessage = "message"
	frameError   = "error"
)

// frame is the JSON envelope exchanged with the gateway sidecar.
// Credentials are base64 encoded by encoding/json.
type frame struct {
	Type        string              `json:"type"`
	Code        string              `json:"code,omitempty"`
	Method      string              `json:"method,omitempty"`
	Target      string              `json:"target,omitempty"`
	Credentials []byte              `json:"credentials,omitempty"`
	Payload     string              `json:"payload,omitempty"`
	Identity    string              `json:"identity,omitempty"`
	Reason      int                 `json:"reason,omitempty"`
	Operator    bool                `json:"operator,omitempty"`
	Error       string              `json:"error,omitempty"`
	Message     *transport.Inbound  `json:"message,omitempty"`
	Send        *transport.Outbound `json:"send,omitempty"`
}

func openFrame(req transport.OpenRequest) frame {
	return frame{
		Type:        frameOpen,
		Code:        req.Code,
		Method:      string(req.Method),
		Target:      req.TargetAddress,
		Credentials: req.Credentials,
	}
}

// toEvent converts a gateway frame to a transport event. ok is false for
// frames that carry no event.
func (f frame) toEvent() (ev transport.Event, ok bool) {
	switch f.Type {
	case frameCode:
		return transport.Event{Kind: transport.EventCodeReady, Payload: f.Payload}, true
	case frameCreds:
		return transport.Event{Kind: transport.EventCredentialUpgrade, Credentials: f.Credentials}, true
	case frameLinked:
		return transport.Event{Kind: transport.EventOpen, Identity: f.Identity}, true
	case frameClose:
		return transport.Event{
			Kind:              transport.EventClose,
			Reason:            transport.DisconnectReason(f.Reason),
			OperatorRequested: f.Operator,
		}, true
	case frameMessage:
		if f.Message == nil {
			return transport.Event{}, false
		}
		return transport.Event{Kind: transport.EventMessage, Message: f.Message}, true
	default:
		return transport.Event{}, false
	}
}
