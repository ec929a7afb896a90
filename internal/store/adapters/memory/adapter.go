// Package memory implementa un driver en proceso sobre go-cache.
//
// Pensado para desarrollo y tests: cada Connect abre un espacio aislado. Los
// documentos se guardan serializados en JSON, así las lecturas nunca comparten
// memoria con el caller y los tipos vuelven como los devolvería un motor real.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/couchauth/internal/store"
)

func init() {
	store.RegisterDriver(&memoryDriver{})
}

type memoryDriver struct{}

func (d *memoryDriver) Name() string { return "memory" }

func (d *memoryDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	return &memoryConnection{
		cols:    make(map[string]*collection),
		indexes: make(map[string][]store.IndexSpec),
	}, nil
}

type memoryConnection struct {
	mu      sync.Mutex
	cols    map[string]*collection
	indexes map[string][]store.IndexSpec
	closed  bool
}

func (c *memoryConnection) Name() string { return "memory" }

func (c *memoryConnection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("memory: connection closed")
	}
	return nil
}

func (c *memoryConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Collection crea la colección al primer uso; en memoria no hace falta provisionar.
func (c *memoryConnection) Collection(name string) store.CollectionDriver {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, ok := c.cols[name]
	if !ok {
		col = &collection{c: gocache.New(gocache.NoExpiration, 0)}
		c.cols[name] = col
	}
	return col
}

func (c *memoryConnection) EnsureCollection(ctx context.Context, name string) error {
	c.Collection(name)
	return nil
}

func (c *memoryConnection) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.indexes[collection] {
		if existing.Name == idx.Name {
			return nil
		}
	}
	c.indexes[collection] = append(c.indexes[collection], idx)
	return nil
}

// collection guarda cada documento como []byte JSON bajo su clave.
type collection struct {
	// mu serializa check-and-delete en Remove; go-cache solo es atómico por llamada.
	mu sync.Mutex
	c  *gocache.Cache
}

func (col *collection) Get(ctx context.Context, id string) (store.Document, error) {
	v, ok := col.c.Get(id)
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return decode(v)
}

func (col *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", id, err)
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	if err := col.c.Add(id, b, gocache.NoExpiration); err != nil {
		return store.ErrDocumentExists
	}
	return nil
}

func (col *collection) Upsert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", id, err)
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	col.c.Set(id, b, gocache.NoExpiration)
	return nil
}

func (col *collection) Remove(ctx context.Context, id string) error {
	col.mu.Lock()
	defer col.mu.Unlock()
	if _, ok := col.c.Get(id); !ok {
		return store.ErrDocumentNotFound
	}
	col.c.Delete(id)
	return nil
}

func (col *collection) Find(ctx context.Context, filter store.Filter, limit int) ([]store.Document, error) {
	items := col.c.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []store.Document
	for _, id := range ids {
		doc, err := decode(items[id].Object)
		if err != nil {
			return nil, err
		}
		if !store.Matches(doc, filter) {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func decode(v any) (store.Document, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("memory: unexpected value %T", v)
	}
	var doc store.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("memory: decode: %w", err)
	}
	return doc, nil
}
