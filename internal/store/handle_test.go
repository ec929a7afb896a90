package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/couchauth/internal/schema"
	"github.com/dropDatabas3/couchauth/internal/store"
)

func TestHandle_ConnectUnknownDriver(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	err := h.Connect(context.Background(), store.ConnectOptions{Driver: "nope"})
	require.Error(t, err)
	require.True(t, store.IsConnection(err))
	require.False(t, h.Connected())
}

func TestHandle_ConnectIsNoopWhenConnected(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	ctx := context.Background()
	require.NoError(t, h.Connect(ctx, store.ConnectOptions{Driver: "memory"}))
	require.True(t, h.Connected())

	// Segunda vez con un driver inválido: no reconecta, no falla.
	require.NoError(t, h.Connect(ctx, store.ConnectOptions{Driver: "nope"}))
	require.NoError(t, h.Ping(ctx))

	require.NoError(t, h.Close())
	require.False(t, h.Connected())
	require.ErrorIs(t, h.Ping(ctx), store.ErrNotConnected)
}

func TestHandle_RegisterModelReusesExisting(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	first, created := h.RegisterModel("User", schema.User(), store.ModelOptions{IDKey: "email"})
	require.True(t, created)

	second, created := h.RegisterModel("User", schema.User(), store.ModelOptions{})
	require.False(t, created)
	require.Same(t, first, second)
	require.Equal(t, "email", second.IDKey())
	require.Equal(t, []string{"User"}, h.ModelNames())
}

func TestHandle_DefaultOrNew(t *testing.T) {
	prev := store.Default()
	t.Cleanup(func() { store.SetDefault(prev) })

	store.SetDefault(nil)
	a := store.DefaultOrNew(store.HandleOptions{})
	b := store.DefaultOrNew(store.HandleOptions{})
	require.Same(t, a, b)
	require.Same(t, a, store.Default())
}

func TestHandle_EnsureRequiresConnection(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	h.RegisterModel("User", schema.User(), store.ModelOptions{IDKey: "email"})
	ctx := context.Background()
	require.ErrorIs(t, h.EnsureCollections(ctx), store.ErrNotConnected)
	require.ErrorIs(t, h.EnsureIndexes(ctx), store.ErrNotConnected)

	require.NoError(t, h.Connect(ctx, store.ConnectOptions{Driver: "memory"}))
	require.NoError(t, h.EnsureCollections(ctx))
	require.NoError(t, h.EnsureIndexes(ctx))
	// idempotente
	require.NoError(t, h.EnsureIndexes(ctx))
}

func TestListDrivers_IncludesMemory(t *testing.T) {
	require.Contains(t, store.ListDrivers(), "memory")
	_, ok := store.GetDriver("memory")
	require.True(t, ok)
}

// recordingDriver guarda la consistencia con la que se abrió cada conexión.
type recordingDriver struct {
	mu   sync.Mutex
	seen []store.Consistency
}

func (d *recordingDriver) Name() string { return "recording" }

func (d *recordingDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	d.mu.Lock()
	d.seen = append(d.seen, cfg.Consistency)
	d.mu.Unlock()
	return store.OpenDriver(ctx, store.ConnectOptions{Driver: "memory"})
}

func (d *recordingDriver) last() store.Consistency {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[len(d.seen)-1]
}

var (
	recording     = &recordingDriver{}
	recordingOnce sync.Once
)

func TestHandle_ConnectConsistency(t *testing.T) {
	recordingOnce.Do(func() { store.RegisterDriver(recording) })
	ctx := context.Background()

	cases := []struct {
		name     string
		handle   store.Consistency
		explicit store.Consistency
		want     store.Consistency
	}{
		{"explicit local wins over handle", store.ConsistencyGlobal, store.ConsistencyLocal, store.ConsistencyLocal},
		{"explicit none wins over handle", store.ConsistencyGlobal, store.ConsistencyNone, store.ConsistencyNone},
		{"unset takes handle", store.ConsistencyNone, store.ConsistencyDefault, store.ConsistencyNone},
		{"unset everywhere is local", store.ConsistencyDefault, store.ConsistencyDefault, store.ConsistencyLocal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := store.NewHandle(store.HandleOptions{Consistency: tc.handle})
			require.NoError(t, h.Connect(ctx, store.ConnectOptions{Driver: "recording", Consistency: tc.explicit}))
			t.Cleanup(func() { _ = h.Close() })
			require.Equal(t, tc.want, recording.last())
		})
	}
}
