// Package mongo implementa el driver MongoDB usando go.mongodb.org/mongo-driver.
//
// BucketName es la database; cada modelo es una colección y la clave del
// documento va en _id (además del campo id key del modelo).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

// codeNamespaceExists es el código de CreateCollection sobre una colección existente.
const codeNamespaceExists = 48

func init() {
	store.RegisterDriver(&mongoDriver{})
}

type mongoDriver struct{}

func (d *mongoDriver) Name() string { return "mongo" }

func (d *mongoDriver) Connect(ctx context.Context, cfg store.ConnectOptions) (store.Connection, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("mongo: connection string is required")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("mongo: database name is required")
	}

	opts := options.Client().ApplyURI(cfg.ConnectionString)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	switch cfg.Consistency {
	case store.ConsistencyGlobal:
		opts.SetReadConcern(readconcern.Majority())
		opts.SetReadPreference(readpref.Primary())
	case store.ConsistencyLocal:
		opts.SetReadPreference(readpref.Primary())
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping failed: %w", err)
	}

	logger.Named("store.mongo").Info("database ready", logger.Bucket(cfg.BucketName))
	return &mongoConnection{client: client, db: client.Database(cfg.BucketName)}, nil
}

type mongoConnection struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *mongoConnection) Name() string { return "mongo" }

func (c *mongoConnection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoConnection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

func (c *mongoConnection) Collection(name string) store.CollectionDriver {
	return &collection{name: name, c: c.db.Collection(name)}
}

func (c *mongoConnection) EnsureCollection(ctx context.Context, name string) error {
	err := c.db.CreateCollection(ctx, name)
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeNamespaceExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mongo: create collection %s: %w", name, err)
	}
	return nil
}

// EnsureIndex crea índices ascendentes. El primario es el _id implícito.
func (c *mongoConnection) EnsureIndex(ctx context.Context, collection string, idx store.IndexSpec) error {
	if idx.Primary {
		return nil
	}
	keys := bson.D{}
	for _, f := range idx.Fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	_, err := c.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(idx.Name),
	})
	if err != nil {
		return fmt.Errorf("mongo: create index %s on %s: %w", idx.Name, collection, err)
	}
	return nil
}

type collection struct {
	name string
	c    *mongo.Collection
}

func (col *collection) Get(ctx context.Context, id string) (store.Document, error) {
	var raw bson.M
	err := col.c.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get %s/%s: %w", col.name, id, err)
	}
	return fromBSON(raw), nil
}

func (col *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	_, err := col.c.InsertOne(ctx, toBSON(id, doc))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDocumentExists
	}
	if err != nil {
		return fmt.Errorf("mongo: insert %s/%s: %w", col.name, id, err)
	}
	return nil
}

func (col *collection) Upsert(ctx context.Context, id string, doc store.Document) error {
	_, err := col.c.ReplaceOne(ctx, bson.M{"_id": id}, toBSON(id, doc), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert %s/%s: %w", col.name, id, err)
	}
	return nil
}

func (col *collection) Remove(ctx context.Context, id string) error {
	res, err := col.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: remove %s/%s: %w", col.name, id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

func (col *collection) Find(ctx context.Context, filter store.Filter, limit int) ([]store.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := col.c.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", col.name, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("mongo: decode %s: %w", col.name, err)
	}
	out := make([]store.Document, 0, len(raws))
	for _, raw := range raws {
		out = append(out, fromBSON(raw))
	}
	return out, nil
}

func toBSON(id string, doc store.Document) bson.M {
	out := bson.M{"_id": id}
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// fromBSON convierte tipos BSON a los tipos planos que espera el store y
// descarta _id.
func fromBSON(raw bson.M) store.Document {
	out := make(store.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case bson.M:
		return map[string]any(fromBSON(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}
