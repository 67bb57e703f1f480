package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	var all, linked []Type
	b.SubscribeAll(func(ev Event) { all = append(all, ev.EventType()) })
	b.Subscribe(TypeLinked, func(ev Event) { linked = append(linked, ev.EventType()) })

	now := time.Now()
	b.Publish(NewCodeReady("c", "qr", "p", now))
	b.Publish(NewLinked("c", "+1", now))

	assert.Equal(t, []Type{TypeCodeReady, TypeLinked}, all)
	assert.Equal(t, []Type{TypeLinked}, linked)
}

func TestBusRecoversFromPanic(t *testing.T) {
	b := NewBus()
	called := false
	b.SubscribeAll(func(Event) { panic("boom") })
	b.SubscribeAll(func(Event) { called = true })

	assert.NotPanics(t, func() { b.Publish(NewRemoved("c", "timeout", time.Now())) })
	assert.True(t, called)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	id := b.SubscribeAll(func(Event) {})
	b.SubscribeAll(func(Event) {})
	require.Equal(t, 2, b.Len())

	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
	assert.Equal(t, 1, b.Len())
}

func TestCollector(t *testing.T) {
	var c Collector
	now := time.Now()
	c.Publish(NewCodeReady("a", "qr", "p", now))
	c.Publish(NewCodeReady("b", "qr", "p", now))
	c.Publish(NewRemoved("a", "deleted", now))

	assert.Len(t, c.Events(), 3)
	assert.Equal(t, []Type{TypeCodeReady, TypeRemoved}, c.Types("a"))
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := MarshalEvent(NewDisconnected("c", 428, "connection_closed", at))
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "disconnected", env["type"])
	assert.Equal(t, "c", env["code"])
	assert.Equal(t, "2026-01-02T03:04:05Z", env["timestamp"])
	payload := env["payload"].(map[string]any)
	assert.Equal(t, float64(428), payload["reasonCode"])

	removed := ToEnvelope(NewRemoved("c", "sweep", at))
	assert.Equal(t, "sweep", removed.Payload["reasonCode"])
}
