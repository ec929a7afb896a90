// Package redis implementa el driver Redis usando go-redis/v9.
//
// Cada documento es un string JSON en "<prefix>:<colección>:<clave>" y cada
// colección lleva un set "<prefix>:<colección>:__ids" con sus claves. Insert y
// Remove tocan ambas claves dentro de un script Lua, así la pareja es atómica.
// Los filtros se resuelven en proceso recorriendo el set: pensado para
// volúmenes chicos (desarrollo, single-node).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

const (
	defaultPrefix = "couchauth"
	mgetChunk     = 200
)

var (
	insertScript = rdb.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[2])
return 1`)

	removeScript = rdb.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
return 1`)
)

func init() {
	store.RegisterDriver(&redisDriver{})
}

type redisDriver struct{}

func (d *redisDriver) Name() string { return "redis" }

// Connect acepta una URL redis:// o un host:port simple.
func (d *redisDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("redis: connection string is required")
	}
	var opts *rdb.Options
	if strings.Contains(cfg.ConnectionString, "://") {
		parsed, err := rdb.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	} else {
		opts = &rdb.Options{Addr: cfg.ConnectionString}
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}

	client := rdb.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = cfg.BucketName
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger.Named("store.redis").Info("redis ready", logger.String("addr", opts.Addr), logger.String("prefix", prefix))
	return &redisConnection{c: client, prefix: prefix}, nil
}

type redisConnection struct {
	c      *rdb.Client
	prefix string
}

func (c *redisConnection) Name() string { return "redis" }

func (c *redisConnection) Ping(ctx context.Context) error {
	return c.c.Ping(ctx).Err()
}

func (c *redisConnection) Close() error { return c.c.Close() }

func (c *redisConnection) Collection(name string) store.CollectionDriver {
	return &collection{c: c.c, keys: keyspace{prefix: c.prefix, collection: name}}
}

// EnsureCollection no hace nada: las claves existen al primer write.
func (c *redisConnection) EnsureCollection(ctx context.Context, name string) error {
	return nil
}

// EnsureIndex no hace nada: los filtros recorren el set de claves.
func (c *redisConnection) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	return nil
}

type keyspace struct {
	prefix     string
	collection string
}

func (k keyspace) doc(id string) string { return k.prefix + ":" + k.collection + ":" + id }
func (k keyspace) ids() string          { return k.prefix + ":" + k.collection + ":__ids" }

type collection struct {
	c    *rdb.Client
	keys keyspace
}

func (col *collection) Get(ctx context.Context, id string) (store.Document, error) {
	b, err := col.c.Get(ctx, col.keys.doc(id)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", col.keys.doc(id), err)
	}
	return decode(b)
}

func (col *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", id, err)
	}
	n, err := insertScript.Run(ctx, col.c, []string{col.keys.doc(id), col.keys.ids()}, b, id).Int()
	if err != nil {
		return fmt.Errorf("redis: insert %s: %w", col.keys.doc(id), err)
	}
	if n == 0 {
		return store.ErrDocumentExists
	}
	return nil
}

func (col *collection) Upsert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", id, err)
	}
	_, err = col.c.TxPipelined(ctx, func(p rdb.Pipeliner) error {
		p.Set(ctx, col.keys.doc(id), b, 0)
		p.SAdd(ctx, col.keys.ids(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: upsert %s: %w", col.keys.doc(id), err)
	}
	return nil
}

func (col *collection) Remove(ctx context.Context, id string) error {
	n, err := removeScript.Run(ctx, col.c, []string{col.keys.doc(id), col.keys.ids()}, id).Int()
	if err != nil {
		return fmt.Errorf("redis: remove %s: %w", col.keys.doc(id), err)
	}
	if n == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

func (col *collection) Find(ctx context.Context, filter store.Filter, limit int) ([]store.Document, error) {
	ids, err := col.c.SMembers(ctx, col.keys.ids()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: members %s: %w", col.keys.ids(), err)
	}
	sort.Strings(ids)

	var out []store.Document
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, col.keys.doc(id))
		}
		vals, err := col.c.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: mget: %w", err)
		}
		for _, v := range vals {
			s, ok := v.(string)
			if !ok {
				// borrado entre SMEMBERS y MGET
				continue
			}
			doc, err := decode([]byte(s))
			if err != nil {
				return nil, err
			}
			if !store.Matches(doc, filter) {
				continue
			}
			out = append(out, doc)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func decode(b []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("redis: decode: %w", err)
	}
	return doc, nil
}
