package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-linkd/lib/config"
	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/events"
	"github.com/go-i2p/go-linkd/lib/pool"
	"github.com/go-i2p/go-linkd/lib/session"
	"github.com/go-i2p/go-linkd/lib/util"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig(t *testing.T) config.ConfigDefaults {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Pool.Capacity = 5
	cfg.Store.Path = filepath.Join(dir, "sessions")
	cfg.Store.SQLitePath = filepath.Join(dir, "credentials.db")
	cfg.API.Address = "127.0.0.1:0"
	cfg.Transport.Kind = config.TransportSim
	cfg.Handler.Log = false
	return cfg
}

func newDaemon(t *testing.T, cfg config.ConfigDefaults, opts ...Option) *Daemon {
	t.Helper()
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	return d
}

func metricValue(t *testing.T, d *Daemon, name string) float64 {
	t.Helper()
	families, err := d.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			}
		}
		return sum
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Capacity = 0
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pool.Capacity")
}

func TestNewRejectsBadFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler.Filter = "text contains"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := testConfig(t)
	var closers util.Closers

	dir, err := OpenStore(cfg.Store, &closers)
	require.NoError(t, err)
	assert.IsType(t, &credentials.DirStore{}, dir)

	cfg.Store.Backend = config.StoreBackendSQLite
	cfg.Store.Passphrase = "correct horse"
	db, err := OpenStore(cfg.Store, &closers)
	require.NoError(t, err)
	assert.IsType(t, &credentials.SQLiteStore{}, db)

	ctx := context.Background()
	require.NoError(t, db.Write(ctx, "acct", []byte("secret")))
	data, ok, err := db.Read(ctx, "acct")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("secret"), data)

	assert.NoError(t, closers.CloseAll())

	cfg.Store.Backend = "tape"
	_, err = OpenStore(cfg.Store, &closers)
	assert.Error(t, err)
}

func TestStartRestoresAndServes(t *testing.T) {
	cfg := testConfig(t)
	seed, err := credentials.NewDirStore(cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, seed.Write(context.Background(), "acct1", []byte("stored-creds")))

	collected := &events.Collector{}
	d := newDaemon(t, cfg, WithSink(collected))
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		st, err := d.Pool().Status(context.Background(), "acct1")
		return err == nil && st.State == session.Linked && st.LinkedIdentity == "sim:acct1"
	}, waitFor, tick)
	assert.Equal(t, pool.RestoreActor, func() string {
		st, _ := d.Pool().Status(context.Background(), "acct1")
		return st.RequestedBy
	}())

	base := "http://" + d.API().Addr().String()
	body, _ := json.Marshal(pool.LinkRequest{Actor: "alice"})
	resp, err := http.Post(base+"/link", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res pool.LinkResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.NotEmpty(t, res.QR)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	text, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "linkd_pool_capacity 5")
	assert.Contains(t, string(text), "go_goroutines")

	assert.NotEmpty(t, collected.For("acct1"))
	assert.Contains(t, collected.Types(res.Code), events.TypeCodeReady)

	d.Stop()
	_, ok, err := seed.Read(context.Background(), "acct1")
	require.NoError(t, err)
	assert.True(t, ok, "shutdown keeps credentials")

	_, err = d.Pool().Status(context.Background(), "acct1")
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestStartWithoutRestore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.RestoreOnStart = false
	cfg.API.Address = ""
	seed, err := credentials.NewDirStore(cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, seed.Write(context.Background(), "acct1", []byte("stored-creds")))

	d := newDaemon(t, cfg)
	require.NoError(t, d.Start(context.Background()))
	assert.Nil(t, d.API().Addr())

	n, err := d.Pool().Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReloadFromSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Address = ""
	next := cfg
	d := newDaemon(t, cfg, WithConfigSource(func() config.ConfigDefaults { return next }))
	require.NoError(t, d.Start(context.Background()))

	next.Handler.Filter = `text contains "ping"`
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, `text contains "ping"`, d.config().Handler.Filter)
	assert.Equal(t, 1.0, metricValue(t, d, "linkd_handler_reloads_total"))

	next.Handler.Filter = "text contains"
	assert.Error(t, d.Reload(context.Background()))
	assert.Equal(t, `text contains "ping"`, d.config().Handler.Filter, "a failed reload keeps the running handlers")

	next.Pool.Capacity = 0
	assert.Error(t, d.Reload(context.Background()))
	assert.Equal(t, 1.0, metricValue(t, d, "linkd_handler_reloads_total"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Address = ""
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := d.Pool().Len(context.Background())
		return err == nil
	}, waitFor, tick)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	_, err := d.Pool().Admit(context.Background(), pool.LinkRequest{Actor: "late"})
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}
