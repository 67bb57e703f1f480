package events

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON form of an event: {type, code, payload, timestamp}.
type Envelope struct {
	Type      Type           `json:"type"`
	Code      string         `json:"code"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToEnvelope flattens an event for external subscribers.
func ToEnvelope(ev Event) Envelope {
	env := Envelope{
		Type:      ev.EventType(),
		Code:      ev.SessionCode(),
		Timestamp: ev.OccurredAt().UTC(),
	}
	switch e := ev.(type) {
	case CodeReady:
		env.Payload = map[string]any{"method": e.Method, "payload": e.Payload}
	case Connecting:
		env.Payload = map[string]any{"attempt": e.Attempt}
	case Linked:
		env.Payload = map[string]any{"identity": e.Identity}
	case Disconnected:
		env.Payload = map[string]any{"reasonCode": e.ReasonCode, "reason": e.Reason}
	case Removed:
		env.Payload = map[string]any{"reasonCode": e.Reason}
	}
	return env
}

// MarshalEvent encodes an event as an Envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ToEnvelope(ev))
}
