package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/couchauth/internal/store"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/memory"
)

// countingDriver envuelve el driver memory y cuenta connects y provisioning.
type countingDriver struct {
	connects    atomic.Int32
	collections atomic.Int32
	indexes     atomic.Int32
}

func (d *countingDriver) Name() string { return "counting" }

func (d *countingDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	d.connects.Add(1)
	inner, err := store.OpenDriver(ctx, store.ConnectOptions{Driver: "memory"})
	if err != nil {
		return nil, err
	}
	return &countingConn{Connection: inner, d: d}, nil
}

type countingConn struct {
	store.Connection
	d *countingDriver
}

func (c *countingConn) EnsureCollection(ctx context.Context, name string) error {
	c.d.collections.Add(1)
	return c.Connection.EnsureCollection(ctx, name)
}

func (c *countingConn) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	c.d.indexes.Add(1)
	return c.Connection.EnsureIndex(ctx, collection, idx)
}

var (
	counting     = &countingDriver{}
	registerOnce sync.Once
)

func countingAdapter(t *testing.T, opts Options) (*Adapter, *countingDriver) {
	t.Helper()
	registerOnce.Do(func() { store.RegisterDriver(counting) })
	counting.connects.Store(0)
	counting.collections.Store(0)
	counting.indexes.Store(0)

	h := store.NewHandle(store.HandleOptions{})
	t.Cleanup(func() { _ = h.Close() })
	opts.Instance = h
	opts.Connect = store.ConnectOptions{Driver: "counting"}
	return New(opts), counting
}

func TestEnsureReady_Idempotent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a, d := countingAdapter(t, Options{
		EnsureCollections: true,
		EnsureIndexes:     true,
		Logger:            zap.New(core),
	})
	ctx := context.Background()

	first, err := a.lazy.ensureReady(ctx)
	require.NoError(t, err)
	require.Equal(t, stateReady, a.lazy.state)
	require.EqualValues(t, 1, d.connects.Load())
	require.EqualValues(t, 4, d.collections.Load())
	// primario por modelo + findByEmail + findBySessionToken
	require.EqualValues(t, 6, d.indexes.Load())

	second, err := a.lazy.ensureReady(ctx)
	require.NoError(t, err)
	require.Same(t, first.user, second.user)
	require.EqualValues(t, 1, d.connects.Load())
	require.EqualValues(t, 4, d.collections.Load())
	require.EqualValues(t, 6, d.indexes.Load())
	require.Len(t, a.Handle().ModelNames(), 4)

	require.Equal(t, 1, logs.FilterMessage(provisioningWarning).Len())
	require.Equal(t, 1, logs.FilterMessage("setting up auth models").Len())
	require.Equal(t, 1, logs.FilterMessage("auth model setup completed").Len())
}

func TestEnsureReady_NoProvisioningByDefault(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, d := countingAdapter(t, Options{Logger: zap.New(core)})

	require.NoError(t, a.Ready(context.Background()))
	require.EqualValues(t, 0, d.collections.Load())
	require.EqualValues(t, 0, d.indexes.Load())
	require.Zero(t, logs.Len())
}

func TestEnsureReady_ReconnectsAfterClose(t *testing.T) {
	a, d := countingAdapter(t, Options{})
	ctx := context.Background()

	require.NoError(t, a.Ready(ctx))
	require.NoError(t, a.Handle().Close())
	require.False(t, a.Handle().Connected())

	require.NoError(t, a.Ready(ctx))
	require.True(t, a.Handle().Connected())
	require.EqualValues(t, 2, d.connects.Load())
}

func TestEnsureReady_ReusesRegisteredModels(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	t.Cleanup(func() { _ = h.Close() })
	ctx := context.Background()
	opts := Options{Instance: h, Connect: store.ConnectOptions{Driver: "memory"}}

	first := New(opts)
	m1, err := first.lazy.ensureReady(ctx)
	require.NoError(t, err)

	// segundo adapter sobre el mismo handle (ej: hot reload)
	second := New(opts)
	m2, err := second.lazy.ensureReady(ctx)
	require.NoError(t, err)
	require.Same(t, m1.user, m2.user)
	require.Same(t, m1.session, m2.session)
}

func TestEnsureReady_ConcurrentFirstCalls(t *testing.T) {
	a, d := countingAdapter(t, Options{EnsureCollections: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.lazy.ensureReady(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, d.connects.Load())
	require.EqualValues(t, 4, d.collections.Load())
}

func TestResolveHandle_FallsBackToShared(t *testing.T) {
	prev := store.Default()
	t.Cleanup(func() { store.SetDefault(prev) })
	store.SetDefault(nil)

	a := New(Options{Connect: store.ConnectOptions{Driver: "memory"}})
	require.NoError(t, a.Ready(context.Background()))
	t.Cleanup(func() { _ = a.Handle().Close() })
	require.Same(t, store.Default(), a.Handle())

	b := New(Options{Connect: store.ConnectOptions{Driver: "memory"}})
	require.NoError(t, b.Ready(context.Background()))
	require.Same(t, a.Handle(), b.Handle())
}
