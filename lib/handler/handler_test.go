package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-linkd/lib/transport"
)

type recordingReplier struct {
	mu   sync.Mutex
	sent []transport.Outbound
}

func (r *recordingReplier) Send(_ context.Context, msg transport.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func counting(n *int) Handler {
	return Func(func(context.Context, Message, Replier) error {
		*n++
		return nil
	})
}

func message(text string) Message {
	return Message{
		Session: "s1",
		Inbound: transport.Inbound{ID: "m1", From: "+2", Chat: "+2", Text: text, Timestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
}

func TestSlotSwap(t *testing.T) {
	s := NewSlot(nil)
	assert.NotNil(t, s.Load())

	var a, b int
	s.Swap(counting(&a))
	require.NoError(t, s.Load().Handle(context.Background(), message("x"), nil))

	old := s.Swap(counting(&b))
	require.NoError(t, s.Load().Handle(context.Background(), message("x"), nil))
	require.NoError(t, old.Handle(context.Background(), message("x"), nil))

	assert.Equal(t, 2, a, "old handler still usable by in-flight callers")
	assert.Equal(t, 1, b)
}

func TestSlotConcurrentSwap(t *testing.T) {
	s := NewSlot(Nop)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Swap(Nop)
		}()
		go func() {
			defer wg.Done()
			_ = s.Load().Handle(context.Background(), message("x"), nil)
		}()
	}
	wg.Wait()
}

func TestChainJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var n int
	c := Chain{Func(func(context.Context, Message, Replier) error { return boom }), counting(&n)}
	err := c.Handle(context.Background(), message("x"), nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n, "later handlers still run")
}

func TestFilter(t *testing.T) {
	var n int
	f, err := NewFilter(`text startsWith "!" && hour >= 8`, counting(&n))
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), message("!ping"), nil))
	require.NoError(t, f.Handle(context.Background(), message("hello"), nil))
	assert.Equal(t, 1, n)

	_, err = NewFilter(`text +`, Nop)
	assert.Error(t, err)
	_, err = NewFilter(`text`, Nop)
	assert.Error(t, err, "must evaluate to bool")
	_, err = NewFilter("", Nop)
	assert.Error(t, err)
}

func TestWebhookForwardsAndReplies(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(webhookResponse{Reply: "pong"})
	}))
	defer srv.Close()

	replier := &recordingReplier{}
	wh := NewWebhook(srv.URL, time.Second)
	require.NoError(t, wh.Handle(context.Background(), message("ping"), replier))

	assert.Equal(t, "s1", got.Session)
	assert.Equal(t, "ping", got.Message.Text)
	require.Len(t, replier.sent, 1)
	assert.Equal(t, transport.Outbound{To: "+2", Text: "pong", ReplyTo: "m1"}, replier.sent[0])
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Handle(context.Background(), message("x"), &recordingReplier{})
	assert.Error(t, err)
}

func TestBuildFactory(t *testing.T) {
	f, err := BuildFactory(Options{})
	require.NoError(t, err)
	assert.NotNil(t, f("any"))

	f, err = BuildFactory(Options{Log: true, Filter: `from == "+2"`})
	require.NoError(t, err)
	_, ok := f("c").(*Filter)
	assert.True(t, ok)

	_, err = BuildFactory(Options{Filter: "(("})
	assert.Error(t, err)
}
