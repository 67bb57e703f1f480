package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/events"
	"github.com/go-i2p/go-linkd/lib/handler"
	"github.com/go-i2p/go-linkd/lib/transport"
	"github.com/go-i2p/go-linkd/lib/transport/sim"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testHost serializes supervisor calls on its own goroutine, like the pool.
type testHost struct {
	ops    chan func()
	quit   chan struct{}
	events events.Collector

	mu         sync.Mutex
	linked     []string
	terminated []Termination
}

func newTestHost(t *testing.T) *testHost {
	h := &testHost{ops: make(chan func(), 64), quit: make(chan struct{})}
	go func() {
		for {
			select {
			case <-h.quit:
				return
			case fn := <-h.ops:
				fn()
			}
		}
	}()
	t.Cleanup(func() { close(h.quit) })
	return h
}

func (h *testHost) Post(fn func()) bool {
	select {
	case h.ops <- fn:
		return true
	case <-h.quit:
		return false
	}
}

func (h *testHost) Publish(ev events.Event) { h.events.Publish(ev) }

func (h *testHost) Linked(s *Supervisor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.linked = append(h.linked, s.Code())
}

func (h *testHost) Terminated(s *Supervisor, t Termination) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = append(h.terminated, t)
}

func (h *testHost) terminations() []Termination {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Termination(nil), h.terminated...)
}

// do runs fn on the host loop and waits for it.
func (h *testHost) do(fn func()) {
	done := make(chan struct{})
	h.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

type fixture struct {
	t     *testing.T
	host  *testHost
	gw    *sim.Gateway
	store *credentials.DirStore
	sup   *Supervisor
}

func testConfig() Config {
	return Config{
		WatchdogWindow:    time.Minute,
		OpenTimeout:       time.Second,
		TeardownTimeout:   time.Second,
		ReconnectBurst:    5,
		ReconnectInterval: time.Minute,
	}
}

func newFixture(t *testing.T, cfg Config, mutate func(*Params)) *fixture {
	t.Helper()
	store, err := credentials.NewDirStore(t.TempDir())
	require.NoError(t, err)
	f := &fixture{t: t, host: newTestHost(t), gw: sim.New(sim.Options{}), store: store}
	p := Params{
		Code:        "s1",
		RequestedBy: "u1",
		Method:      transport.MethodQR,
		Opener:      f.gw,
		Store:       store,
		Host:        f.host,
		Config:      cfg,
	}
	if mutate != nil {
		mutate(&p)
	}
	f.sup = New(p)
	f.host.do(f.sup.Start)
	return f
}

func (f *fixture) state() State {
	var st State
	f.host.do(func() { st = f.sup.State() })
	return st
}

func (f *fixture) eventuallyState(want State) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.state() == want }, waitFor, tick, "want %s, have %s", want, f.state())
}

// handle waits for the n-th handle opened for the session.
func (f *fixture) handle(n int) *sim.Handle {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.gw.Opened(f.sup.Code()) >= n }, waitFor, tick)
	h := f.gw.Last(f.sup.Code())
	// Wait until the supervisor has attached the handle before driving it.
	require.Eventually(f.t, func() bool {
		var attached bool
		f.host.do(func() { attached = f.sup.handle == transport.Handle(h) })
		return attached
	}, waitFor, tick)
	return h
}

func (f *fixture) link(identity string) *sim.Handle {
	f.t.Helper()
	h := f.handle(1)
	h.EmitCode("qr-1")
	f.eventuallyState(AwaitingQr)
	h.Upgrade([]byte("creds"))
	f.eventuallyState(Connecting)
	h.Connect(identity)
	f.eventuallyState(Linked)
	return h
}

func (f *fixture) storeHas() bool {
	_, ok, err := f.store.Read(context.Background(), f.sup.Code())
	require.NoError(f.t, err)
	return ok
}

func TestSupervisorQRLinkFlow(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.link("+100")

	assert.Equal(t, []events.Type{
		events.TypeCodeReady,
		events.TypeConnecting,
		events.TypeLinked,
	}, f.host.events.Types("s1"))

	require.Eventually(t, f.storeHas, waitFor, tick, "credentials persisted on upgrade")

	var st Status
	f.host.do(func() { st = f.sup.Status() })
	assert.Equal(t, "+100", st.LinkedIdentity)
	assert.Equal(t, Linked, st.State)
	f.host.mu.Lock()
	assert.Equal(t, []string{"s1"}, f.host.linked)
	f.host.mu.Unlock()
}

func TestSupervisorPairingFlow(t *testing.T) {
	f := newFixture(t, testConfig(), func(p *Params) {
		p.Method = transport.MethodPairing
		p.TargetAddress = "+100"
	})
	h := f.handle(1)
	assert.Equal(t, "+100", h.Request().TargetAddress)

	h.EmitCode("ABCD-1234")
	f.eventuallyState(AwaitingPairing)
}

func TestSupervisorCodeRefresh(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	h := f.handle(1)
	h.EmitCode("qr-1")
	h.EmitCode("qr-2")
	require.Eventually(t, func() bool { return len(f.host.events.For("s1")) == 2 }, waitFor, tick)

	evs := f.host.events.For("s1")
	assert.Equal(t, "qr-2", evs[1].(events.CodeReady).Payload)
	assert.Equal(t, AwaitingQr, f.state())
}

func TestSupervisorReconnectsOnConnectionClosed(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	h := f.link("+100")
	require.Eventually(t, f.storeHas, waitFor, tick)

	h.Drop(transport.ReasonConnectionClosed)

	next := f.handle(2)
	assert.Equal(t, []byte("creds"), next.Request().Credentials, "reopens with stored credentials")
	assert.Equal(t, Connecting, f.state())
	assert.True(t, f.storeHas(), "credentials kept")

	assert.Equal(t, []events.Type{
		events.TypeCodeReady,
		events.TypeConnecting,
		events.TypeLinked,
		events.TypeDisconnected,
		events.TypeConnecting,
	}, f.host.events.Types("s1"))

	next.Connect("+100")
	f.eventuallyState(Linked)
}

func TestSupervisorLoggedOutPurges(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	h := f.link("+100")
	require.Eventually(t, f.storeHas, waitFor, tick)

	h.Drop(transport.ReasonLoggedOut)

	f.eventuallyState(Terminated)
	require.Eventually(t, func() bool { return !f.storeHas() }, waitFor, tick)

	types := f.host.events.Types("s1")
	assert.Equal(t, events.TypeDisconnected, types[len(types)-2])
	assert.Equal(t, events.TypeRemoved, types[len(types)-1])

	terms := f.host.terminations()
	require.Len(t, terms, 1)
	assert.Equal(t, "logged_out", terms[0].Reason)
	assert.True(t, terms[0].Purge)
	select {
	case <-f.sup.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSupervisorWatchdog(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogWindow = 50 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.handle(1)
	require.NoError(t, f.store.Write(context.Background(), "s1", []byte("half-done")))

	f.eventuallyState(Terminated)
	require.Eventually(t, func() bool { return !f.storeHas() }, waitFor, tick)

	evs := f.host.events.For("s1")
	require.NotEmpty(t, evs)
	removed, ok := evs[len(evs)-1].(events.Removed)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, removed.Reason)
	assert.Eventually(t, f.gw.Last("s1").Closed, waitFor, tick, "transport closed on teardown")
}

func TestSupervisorWatchdogStopsOnceLinked(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogWindow = 100 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.link("+100")

	time.Sleep(3 * cfg.WatchdogWindow)
	assert.Equal(t, Linked, f.state())
}

func TestSupervisorRetriesExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBurst = 1
	f := newFixture(t, cfg, nil)
	h := f.link("+100")

	h.Drop(transport.ReasonConnectionLost)
	next := f.handle(2)
	next.Drop(transport.ReasonConnectionLost)

	f.eventuallyState(Terminated)
	terms := f.host.terminations()
	require.Len(t, terms, 1)
	assert.Equal(t, ReasonRetriesExhausted, terms[0].Reason)
	assert.ErrorIs(t, terms[0].Cause, ErrTransportFault)
	assert.False(t, terms[0].Purge)
}

func TestSupervisorRetriesFailedOpen(t *testing.T) {
	f := &fixture{t: t}
	f.host = newTestHost(t)
	f.gw = sim.New(sim.Options{AutoCode: true})
	f.gw.FailNext(errors.New("gateway down"))
	store, err := credentials.NewDirStore(t.TempDir())
	require.NoError(t, err)
	f.store = store
	f.sup = New(Params{Code: "s1", RequestedBy: "u1", Method: transport.MethodQR, Opener: f.gw, Store: store, Host: f.host, Config: testConfig()})
	f.host.do(f.sup.Start)

	f.eventuallyState(AwaitingQr)
	assert.Equal(t, 1, f.gw.Opened("s1"), "failed open is not recorded as a handle")
}

func TestSupervisorTerminateIsIdempotentAndAbsorbing(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	h := f.handle(1)

	f.host.do(func() { f.sup.Terminate(Termination{Reason: ReasonDeleted, Purge: true}) })
	f.host.do(func() { f.sup.Terminate(Termination{Reason: ReasonDeleted, Purge: true}) })

	h.EmitCode("late")
	h.Connect("+1")
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, Terminated, f.state())
	assert.Equal(t, []events.Type{events.TypeRemoved}, f.host.events.Types("s1"))
	assert.Len(t, f.host.terminations(), 1)
}

func TestSupervisorAwaitCode(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	var ch <-chan CodeResult
	f.host.do(func() { ch = f.sup.AwaitCode() })

	f.handle(1).EmitCode("qr-1")
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, "qr-1", res.Payload)
	case <-time.After(waitFor):
		t.Fatal("no code delivered")
	}

	f2 := newFixture(t, testConfig(), nil)
	f2.host.do(func() { ch = f2.sup.AwaitCode() })
	f2.host.do(func() { f2.sup.Terminate(Termination{Reason: ReasonDeleted}) })
	res := <-ch
	assert.ErrorIs(t, res.Err, ErrTerminated)
}

func TestSupervisorRestoreGoesStraightToConnecting(t *testing.T) {
	f := newFixture(t, testConfig(), func(p *Params) { p.Credentials = []byte("stored") })
	h := f.handle(1)
	assert.Equal(t, []byte("stored"), h.Request().Credentials)
	assert.Equal(t, Connecting, f.state())

	h.Connect("+100")
	f.eventuallyState(Linked)
	assert.Equal(t, []events.Type{events.TypeConnecting, events.TypeLinked}, f.host.events.Types("s1"))
}

func TestSupervisorStale(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	h := f.link("+100")

	var stale bool
	f.host.do(func() { stale = f.sup.Stale() })
	assert.False(t, stale)

	h.ForgetIdentity()
	f.host.do(func() { stale = f.sup.Stale() })
	assert.True(t, stale)
}

func TestSupervisorHandlerSwap(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(tag string) handler.Handler {
		return handler.Func(func(_ context.Context, msg handler.Message, _ handler.Replier) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tag+":"+msg.Text)
			return nil
		})
	}
	f := newFixture(t, testConfig(), func(p *Params) { p.Handler = record("old") })
	h := f.link("+100")

	h.Deliver(transport.Inbound{ID: "1", Text: "a"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, waitFor, tick)

	f.sup.SetHandler(record("new"))
	h.Deliver(transport.Inbound{ID: "2", Text: "b"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, tick)

	assert.Equal(t, []string{"old:a", "new:b"}, seen)
	assert.Equal(t, 1, f.gw.Opened("s1"), "reload does not reopen the transport")
	assert.False(t, h.Closed())
}

// slowWrites delays every Write past the teardown timeout.
type slowWrites struct {
	credentials.Store
	delay time.Duration
}

func (s slowWrites) Write(ctx context.Context, code string, data []byte) error {
	time.Sleep(s.delay)
	return s.Store.Write(ctx, code, data)
}

func TestSupervisorPurgeFollowsSlowWrite(t *testing.T) {
	cfg := testConfig()
	cfg.TeardownTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, func(p *Params) {
		p.Store = slowWrites{Store: p.Store, delay: 150 * time.Millisecond}
	})
	h := f.handle(1)
	h.EmitCode("qr-1")
	f.eventuallyState(AwaitingQr)
	h.Upgrade([]byte("creds"))
	f.eventuallyState(Connecting)

	f.host.do(func() { f.sup.Terminate(Termination{Reason: ReasonDeleted, Purge: true}) })

	select {
	case <-f.sup.IODone():
	case <-time.After(waitFor):
		t.Fatal("credential I/O never drained")
	}
	assert.False(t, f.storeHas(), "purge ran before the write it follows")
	time.Sleep(200 * time.Millisecond)
	assert.False(t, f.storeHas(), "write landed after the purge")
}

func TestSupervisorIODoneAfterRelease(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.link("+100")

	select {
	case <-f.sup.IODone():
		t.Fatal("I/O queue closed while running")
	default:
	}
	var hd transport.Handle
	f.host.do(func() { hd = f.sup.Release(Termination{Reason: ReasonShutdown}) })
	require.NotNil(t, hd)
	defer hd.Close()
	select {
	case <-f.sup.IODone():
	case <-time.After(waitFor):
		t.Fatal("credential I/O never drained")
	}
	assert.True(t, f.storeHas())
}
