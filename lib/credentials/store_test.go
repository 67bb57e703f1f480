package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories runs the same contract against every backend.
func storeFactories(t *testing.T, opts ...Option) map[string]Store {
	t.Helper()
	dir, err := NewDirStore(filepath.Join(t.TempDir(), "sessions"), opts...)
	require.NoError(t, err)
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Store{"dir": dir, "sqlite": db}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Read(ctx, "never-seen")
			require.NoError(t, err)
			assert.False(t, ok, "absent code must be tolerated")

			require.NoError(t, store.Write(ctx, "100", []byte("first")))
			require.NoError(t, store.Write(ctx, "100", []byte("second")))
			require.NoError(t, store.Write(ctx, "200", []byte("other")))

			data, ok, err := store.Read(ctx, "100")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("second"), data)

			codes, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"100", "200"}, codes)

			require.NoError(t, store.Remove(ctx, "100"))
			require.NoError(t, store.Remove(ctx, "100"), "remove is idempotent")
			_, ok, err = store.Read(ctx, "100")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRejectsBadCodes(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			for _, code := range []string{"", "..", "../etc", "a/b", "-x"} {
				assert.ErrorIs(t, store.Write(ctx, code, []byte("x")), ErrInvalidCode, code)
			}
		})
	}
}

func TestStoreSealed(t *testing.T) {
	ctx := context.Background()
	sealer, err := NewSealer("hunter2", "")
	require.NoError(t, err)
	for name, store := range storeFactories(t, WithSealer(sealer)) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "abc", []byte("secret")))
			data, ok, err := store.Read(ctx, "abc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("secret"), data)

			meta, ok, err := store.(Describer).Describe(ctx, "abc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, meta.Sealed)
			assert.Equal(t, 6, meta.Size)
		})
	}
}

func TestDirStoreLayout(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := created
	store, err := NewDirStore(t.TempDir(), WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "abc", []byte("raw")))
	raw, err := os.ReadFile(filepath.Join(store.Path("abc"), credsFile))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), raw)

	info, err := os.Stat(filepath.Join(store.Path("abc"), credsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	clock = created.Add(time.Hour)
	require.NoError(t, store.Write(ctx, "abc", []byte("raw2")))
	meta, ok, err := store.Describe(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created, meta.CreatedAt)
	assert.Equal(t, created.Add(time.Hour), meta.UpdatedAt)
	assert.False(t, meta.Sealed)

	// Directories without material are not listed.
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "empty"), 0o700))
	codes, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, codes)
}

func TestDirStoreHonoursContext(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Write(ctx, "abc", []byte("x")), context.Canceled)
}

func TestDirStoreWriteSettlesPastDeadline(t *testing.T) {
	slowClock := func() time.Time {
		time.Sleep(100 * time.Millisecond)
		return time.Now()
	}
	store, err := NewDirStore(t.TempDir(), WithClock(slowClock))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, store.Write(ctx, "abc", []byte("late")))

	// The metadata is written last; it is there as soon as Write returns.
	_, ok, err := store.Describe(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Remove(context.Background(), "abc"))
	time.Sleep(150 * time.Millisecond)
	_, ok, err = store.Read(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, ok, "removed credentials came back")
	_, err = os.Stat(store.Path("abc"))
	assert.True(t, os.IsNotExist(err))
}

func TestSealer(t *testing.T) {
	s, err := NewSealer("pass", "salt")
	require.NoError(t, err)

	sealed, err := s.Seal("a", []byte("payload"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	plain, err := s.Open("a", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)

	_, err = s.Open("b", sealed)
	assert.ErrorIs(t, err, ErrSealed, "bound to the code")

	other, err := NewSealer("other", "salt")
	require.NoError(t, err)
	_, err = other.Open("a", sealed)
	assert.ErrorIs(t, err, ErrSealed)

	_, err = s.Open("a", []byte("short"))
	assert.ErrorIs(t, err, ErrSealed)

	_, err = NewSealer("", "")
	assert.Error(t, err)
}
