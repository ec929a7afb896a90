package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/couchauth/internal/store"
)

func TestKeyspace(t *testing.T) {
	k := keyspace{prefix: "app", collection: "UserSession"}
	require.Equal(t, "app:UserSession:abc", k.doc("abc"))
	require.Equal(t, "app:UserSession:__ids", k.ids())
}

func TestConnect_RequiresAddress(t *testing.T) {
	d, ok := store.GetDriver("redis")
	require.True(t, ok)
	_, err := d.Connect(context.Background(), store.ConnectOptions{})
	require.Error(t, err)
}

// Integración: requiere REDIS_ADDR (host:port o redis://...).
func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "couchauth-itest-" + time.Now().Format("150405.000000")
	conn, err := store.OpenDriver(ctx, store.ConnectOptions{Driver: "redis", ConnectionString: addr, KeyPrefix: prefix})
	require.NoError(t, err)
	defer conn.Close()

	col := conn.Collection("Docs")
	require.NoError(t, col.Insert(ctx, "a", store.Document{"_type": "Docs", "k": "x"}))
	require.ErrorIs(t, col.Insert(ctx, "a", store.Document{}), store.ErrDocumentExists)
	require.NoError(t, col.Upsert(ctx, "b", store.Document{"_type": "Docs", "k": "y"}))

	docs, err := col.Find(ctx, store.Filter{"k": "y"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, col.Remove(ctx, "a"))
	require.ErrorIs(t, col.Remove(ctx, "a"), store.ErrDocumentNotFound)
	require.NoError(t, col.Remove(ctx, "b"))

	_, err = col.Get(ctx, "b")
	require.ErrorIs(t, err, store.ErrDocumentNotFound)
}
