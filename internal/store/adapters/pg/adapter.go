// Package pg implementa el driver PostgreSQL usando pgx/v5.
//
// Cada colección es una tabla (id text primary key, doc jsonb not null) dentro
// del schema indicado por ScopeName (default "public"). Los filtros se
// traducen a predicados sobre doc.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

const (
	defaultSchema   = "public"
	uniqueViolation = "23505"
)

func init() {
	store.RegisterDriver(&pgDriver{})
}

type pgDriver struct{}

func (d *pgDriver) Name() string { return "postgres" }

func (d *pgDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.Username != "" {
		pcfg.ConnConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		pcfg.ConnConfig.Password = cfg.Password
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	schema := cfg.ScopeName
	if schema == "" {
		schema = defaultSchema
	}
	logger.Named("store.pg").Info("pool ready", logger.String("schema", schema))
	return &pgConnection{pool: pool, schema: schema}, nil
}

type pgConnection struct {
	pool   *pgxpool.Pool
	schema string
}

func (c *pgConnection) Name() string { return "postgres" }

func (c *pgConnection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *pgConnection) Close() error {
	c.pool.Close()
	return nil
}

func (c *pgConnection) table(name string) string {
	return pgx.Identifier{c.schema, name}.Sanitize()
}

func (c *pgConnection) Collection(name string) store.CollectionDriver {
	return &collection{pool: c.pool, name: name, table: c.table(name)}
}

// ─── Provisioning ───

func (c *pgConnection) EnsureCollection(ctx context.Context, name string) error {
	if c.schema != defaultSchema {
		if _, err := c.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{c.schema}.Sanitize()); err != nil {
			return fmt.Errorf("postgres: create schema %s: %w", c.schema, err)
		}
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, doc jsonb NOT NULL)", c.table(name))
	if _, err := c.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", name, err)
	}
	return nil
}

// EnsureIndex crea un GIN sobre doc para el primario y un índice de
// expresiones para los secundarios.
func (c *pgConnection) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	if _, err := c.pool.Exec(ctx, indexDDL(c.table(collection), collection, idx)); err != nil {
		return fmt.Errorf("postgres: create index %s on %s: %w", idx.Name, collection, err)
	}
	return nil
}

func indexDDL(table, collection string, idx store.IndexSpec) string {
	if idx.Primary {
		name := pgx.Identifier{"ix_" + collection + "_doc"}.Sanitize()
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (doc)", name, table)
	}
	exprs := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		exprs[i] = fmt.Sprintf("(doc->>%s)", literal(f))
	}
	name := pgx.Identifier{"ix_" + collection + "_" + idx.Name}.Sanitize()
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, strings.Join(exprs, ", "))
}

// ─── Colección ───

type collection struct {
	pool  *pgxpool.Pool
	name  string
	table string
}

func (col *collection) Get(ctx context.Context, id string) (store.Document, error) {
	var raw []byte
	err := col.pool.QueryRow(ctx, "SELECT doc FROM "+col.table+" WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", col.name, id, err)
	}
	return decode(raw)
}

func (col *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: encode %s/%s: %w", col.name, id, err)
	}
	_, err = col.pool.Exec(ctx, "INSERT INTO "+col.table+" (id, doc) VALUES ($1, $2)", id, b)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDocumentExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert %s/%s: %w", col.name, id, err)
	}
	return nil
}

func (col *collection) Upsert(ctx context.Context, id string, doc store.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: encode %s/%s: %w", col.name, id, err)
	}
	const tail = ` (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`
	if _, err := col.pool.Exec(ctx, "INSERT INTO "+col.table+tail, id, b); err != nil {
		return fmt.Errorf("postgres: upsert %s/%s: %w", col.name, id, err)
	}
	return nil
}

func (col *collection) Remove(ctx context.Context, id string) error {
	tag, err := col.pool.Exec(ctx, "DELETE FROM "+col.table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: remove %s/%s: %w", col.name, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

func (col *collection) Find(ctx context.Context, filter store.Filter, limit int) ([]store.Document, error) {
	stmt, args, err := buildSelect(col.table, filter, limit)
	if err != nil {
		return nil, err
	}
	rows, err := col.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", col.name, err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", col.name, err)
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", col.name, err)
	}
	return out, nil
}

// buildSelect compara strings como texto (doc->>'k') y el resto como jsonb,
// así 1 y 1.0 son iguales.
func buildSelect(table string, filter store.Filter, limit int) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	for i, k := range filter.Keys() {
		v := filter[k]
		if s, ok := v.(string); ok {
			where = append(where, fmt.Sprintf("doc->>%s = $%d", literal(k), i+1))
			args = append(args, s)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode filter %s: %w", k, err)
		}
		where = append(where, fmt.Sprintf("doc->%s = $%d::jsonb", literal(k), i+1))
		args = append(args, string(b))
	}

	var sb strings.Builder
	sb.WriteString("SELECT doc FROM ")
	sb.WriteString(table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), args, nil
}

// literal escapa un nombre de campo como literal SQL.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func decode(raw []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode: %w", err)
	}
	return doc, nil
}
