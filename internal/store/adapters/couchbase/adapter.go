// Package couchbase implementa el driver Couchbase usando gocb/v2.
//
// Las operaciones por clave van por KV sobre bucket/scope/colección. Las
// búsquedas por filtro van por SQL++ sobre el scope. Con ConsistencyLocal las
// consultas se atan (ConsistentWith) a los mutation tokens de las escrituras
// de esta conexión, así un Find ve lo que el mismo proceso acaba de escribir.
//
// Requisitos:
//   - Couchbase Server 7.0+ (scopes y colecciones)
//   - índice primario por colección para filtros arbitrarios (ver EnsureIndex)
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

const (
	defaultScope   = "_default"
	defaultTimeout = 10 * time.Second
)

func init() {
	store.RegisterDriver(&couchbaseDriver{})
}

type couchbaseDriver struct{}

func (d *couchbaseDriver) Name() string { return "couchbase" }

func (d *couchbaseDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("couchbase: connection string is required")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("couchbase: bucket name is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cluster, err := gocb.Connect(cfg.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{ConnectTimeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("couchbase: connect: %w", err)
	}

	bucket := cluster.Bucket(cfg.BucketName)
	if err := bucket.WaitUntilReady(timeout, &gocb.WaitUntilReadyOptions{Context: ctx}); err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("couchbase: bucket %s not ready: %w", cfg.BucketName, err)
	}

	scope := cfg.ScopeName
	if scope == "" {
		scope = defaultScope
	}
	log := logger.Named("store.couchbase").With(logger.Bucket(cfg.BucketName), logger.String("scope", scope))
	log.Info("bucket ready")

	return &couchbaseConnection{
		cluster:     cluster,
		bucket:      bucket,
		bucketName:  cfg.BucketName,
		scopeName:   scope,
		consistency: cfg.Consistency,
		tokens:      make(map[uint64]gocb.MutationToken),
		log:         log,
	}, nil
}

type couchbaseConnection struct {
	cluster     *gocb.Cluster
	bucket      *gocb.Bucket
	bucketName  string
	scopeName   string
	consistency store.Consistency
	log         *zap.Logger

	// último mutation token por vbucket de las escrituras de esta conexión
	mu     sync.Mutex
	tokens map[uint64]gocb.MutationToken
}

func (c *couchbaseConnection) Name() string { return "couchbase" }

func (c *couchbaseConnection) Ping(ctx context.Context) error {
	_, err := c.bucket.Ping(&gocb.PingOptions{
		Context:      ctx,
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue},
	})
	return err
}

func (c *couchbaseConnection) Close() error {
	return c.cluster.Close(nil)
}

func (c *couchbaseConnection) Collection(name string) store.CollectionDriver {
	return &collection{
		conn: c,
		name: name,
		col:  c.bucket.Scope(c.scopeName).Collection(name),
	}
}

// ─── Provisioning ───

func (c *couchbaseConnection) EnsureCollection(ctx context.Context, name string) error {
	mgr := c.bucket.Collections()
	if c.scopeName != defaultScope {
		err := mgr.CreateScope(c.scopeName, &gocb.CreateScopeOptions{Context: ctx})
		if err != nil && !errors.Is(err, gocb.ErrScopeExists) {
			return fmt.Errorf("couchbase: create scope %s: %w", c.scopeName, err)
		}
	}
	err := mgr.CreateCollection(gocb.CollectionSpec{Name: name, ScopeName: c.scopeName}, &gocb.CreateCollectionOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrCollectionExists) {
		return fmt.Errorf("couchbase: create collection %s: %w", name, err)
	}
	c.log.Debug("collection ensured", logger.Collection(name))
	return nil
}

func (c *couchbaseConnection) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	qim := c.cluster.QueryIndexes()
	if idx.Primary {
		err := qim.CreatePrimaryIndex(c.bucketName, &gocb.CreatePrimaryQueryIndexOptions{
			IgnoreIfExists: true,
			ScopeName:      c.scopeName,
			CollectionName: collection,
			Context:        ctx,
		})
		if err != nil {
			return fmt.Errorf("couchbase: create primary index on %s: %w", collection, err)
		}
		return nil
	}

	fields := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		fields[i] = quote(f)
	}
	err := qim.CreateIndex(c.bucketName, idx.Name, fields, &gocb.CreateQueryIndexOptions{
		IgnoreIfExists: true,
		ScopeName:      c.scopeName,
		CollectionName: collection,
		Context:        ctx,
	})
	if err != nil {
		return fmt.Errorf("couchbase: create index %s on %s: %w", idx.Name, collection, err)
	}
	c.log.Debug("index ensured", logger.Collection(collection), logger.Index(idx.Name))
	return nil
}

// ─── Consistencia ───

func (c *couchbaseConnection) track(token *gocb.MutationToken) {
	if token == nil || c.consistency != store.ConsistencyLocal {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.tokens[token.PartitionID()]
	if !ok || token.SequenceNumber() > prev.SequenceNumber() {
		c.tokens[token.PartitionID()] = *token
	}
}

func (c *couchbaseConnection) queryOptions(ctx context.Context, params []interface{}) *gocb.QueryOptions {
	opts := &gocb.QueryOptions{
		Context:              ctx,
		PositionalParameters: params,
	}
	switch c.consistency {
	case store.ConsistencyGlobal:
		opts.ScanConsistency = gocb.QueryScanConsistencyRequestPlus
	case store.ConsistencyLocal:
		c.mu.Lock()
		if len(c.tokens) > 0 {
			tokens := make([]gocb.MutationToken, 0, len(c.tokens))
			for _, t := range c.tokens {
				tokens = append(tokens, t)
			}
			opts.ConsistentWith = gocb.NewMutationState(tokens...)
		}
		c.mu.Unlock()
	}
	return opts
}

// ─── Colección ───

type collection struct {
	conn *couchbaseConnection
	name string
	col  *gocb.Collection
}

func (col *collection) Get(ctx context.Context, id string) (store.Document, error) {
	res, err := col.col.Get(id, &gocb.GetOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couchbase: get %s/%s: %w", col.name, id, err)
	}
	var doc store.Document
	if err := res.Content(&doc); err != nil {
		return nil, fmt.Errorf("couchbase: decode %s/%s: %w", col.name, id, err)
	}
	return doc, nil
}

func (col *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	res, err := col.col.Insert(id, doc, &gocb.InsertOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentExists) {
		return store.ErrDocumentExists
	}
	if err != nil {
		return fmt.Errorf("couchbase: insert %s/%s: %w", col.name, id, err)
	}
	col.conn.track(res.MutationToken())
	return nil
}

func (col *collection) Upsert(ctx context.Context, id string, doc store.Document) error {
	res, err := col.col.Upsert(id, doc, &gocb.UpsertOptions{Context: ctx})
	if err != nil {
		return fmt.Errorf("couchbase: upsert %s/%s: %w", col.name, id, err)
	}
	col.conn.track(res.MutationToken())
	return nil
}

func (col *collection) Remove(ctx context.Context, id string) error {
	res, err := col.col.Remove(id, &gocb.RemoveOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return store.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("couchbase: remove %s/%s: %w", col.name, id, err)
	}
	col.conn.track(res.MutationToken())
	return nil
}

func (col *collection) Find(ctx context.Context, filter store.Filter, limit int) ([]store.Document, error) {
	stmt, params := buildSelect(col.name, filter, limit)
	scope := col.conn.bucket.Scope(col.conn.scopeName)
	rows, err := scope.Query(stmt, col.conn.queryOptions(ctx, params))
	if err != nil {
		return nil, fmt.Errorf("couchbase: query %s: %w", col.name, err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var doc store.Document
		if err := rows.Row(&doc); err != nil {
			return nil, fmt.Errorf("couchbase: decode row: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couchbase: query %s: %w", col.name, err)
	}
	return out, nil
}

// buildSelect arma el SELECT con un parámetro posicional por campo del filtro.
func buildSelect(collection string, filter store.Filter, limit int) (string, []interface{}) {
	var (
		where  []string
		params []interface{}
	)
	for i, k := range filter.Keys() {
		where = append(where, fmt.Sprintf("d.%s = $%d", quote(k), i+1))
		params = append(params, filter[k])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT RAW d FROM %s AS d", quote(collection))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY META(d).id")
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), params
}

// quote escapa un identificador SQL++ con backticks.
func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
