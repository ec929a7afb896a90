package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/couchauth/internal/metrics"
	"github.com/dropDatabas3/couchauth/internal/schema"
)

// DefaultIDKey es la clave de los modelos que no declaran una natural.
const DefaultIDKey = "id"

// Model son las operaciones tipadas sobre una colección, derivadas de ligar
// un schema a un nombre de colección.
type Model struct {
	name   string
	schema *schema.Schema
	idKey  string
	h      *Handle
}

// Name retorna el nombre de la colección.
func (m *Model) Name() string { return m.name }

// IDKey retorna el campo usado como clave.
func (m *Model) IDKey() string { return m.idKey }

// Schema retorna el schema del modelo.
func (m *Model) Schema() *schema.Schema { return m.schema }

// FindOption ajusta una búsqueda.
type FindOption func(*findOptions)

type findOptions struct {
	populate []string
	limit    int
}

// Populate expande un campo Ref al documento completo referido.
// Si el referido no existe el campo queda en nil.
func Populate(field string) FindOption {
	return func(o *findOptions) { o.populate = append(o.populate, field) }
}

// Limit acota la cantidad de resultados de Find.
func Limit(n int) FindOption {
	return func(o *findOptions) { o.limit = n }
}

func buildFindOptions(opts []FindOption) findOptions {
	var o findOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ─── Escritura ───

// Create valida y persiste un documento nuevo. Falla con ErrDocumentExists
// si la clave ya existe.
func (m *Model) Create(ctx context.Context, doc Document) (out Document, err error) {
	defer m.observe("create", time.Now(), &err)
	return m.write(ctx, doc, true)
}

// Save valida y reemplaza el documento completo (insert o update).
func (m *Model) Save(ctx context.Context, doc Document) (out Document, err error) {
	defer m.observe("save", time.Now(), &err)
	return m.write(ctx, doc, false)
}

func (m *Model) write(ctx context.Context, doc Document, insert bool) (Document, error) {
	col, err := m.collection()
	if err != nil {
		return nil, err
	}
	id, prepared, err := m.prepare(doc)
	if err != nil {
		return nil, err
	}
	if insert {
		err = col.Insert(ctx, id, prepared)
	} else {
		err = col.Upsert(ctx, id, prepared)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: save %s: %w", m.name, id, err)
	}
	return prepared.Clone(), nil
}

// prepare aplica el schema, fija el discriminador y resuelve la clave.
func (m *Model) prepare(doc Document) (string, Document, error) {
	applied, err := m.schema.Apply(doc, m.idKey)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", m.name, err)
	}
	out := Document(applied)
	id, _ := out[m.idKey].(string)
	if id == "" {
		if m.idKey != DefaultIDKey {
			return "", nil, fmt.Errorf("%s: %w: key %q is required", m.name, ErrValidation, m.idKey)
		}
		id = uuid.NewString()
		out[m.idKey] = id
	}
	out[TypeKey] = m.name
	return id, out, nil
}

// ─── Lectura ───

// FindByID busca por clave. Retorna ErrDocumentNotFound si no existe.
func (m *Model) FindByID(ctx context.Context, id string, opts ...FindOption) (out Document, err error) {
	defer m.observe("findById", time.Now(), &err)
	col, err := m.collection()
	if err != nil {
		return nil, err
	}
	doc, err := col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, doc, buildFindOptions(opts))
}

// FindOne retorna el primer documento que cumple el filtro, o ErrDocumentNotFound.
func (m *Model) FindOne(ctx context.Context, filter Filter, opts ...FindOption) (out Document, err error) {
	defer m.observe("findOne", time.Now(), &err)
	o := buildFindOptions(opts)
	docs, err := m.find(ctx, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return m.hydrate(ctx, docs[0], o)
}

// Find retorna todos los documentos que cumplen el filtro.
func (m *Model) Find(ctx context.Context, filter Filter, opts ...FindOption) (out []Document, err error) {
	defer m.observe("find", time.Now(), &err)
	o := buildFindOptions(opts)
	docs, err := m.find(ctx, filter, o.limit)
	if err != nil {
		return nil, err
	}
	out = make([]Document, 0, len(docs))
	for _, doc := range docs {
		h, err := m.hydrate(ctx, doc, o)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// FindByIndex ejecuta un finder con nombre declarado en el schema
// (ej: schema.IndexByEmail).
func (m *Model) FindByIndex(ctx context.Context, index string, value any, opts ...FindOption) ([]Document, error) {
	idx, ok := m.schema.Index(index)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", m.name, ErrUnknownIndex, index)
	}
	return m.Find(ctx, Filter{idx.By: value}, opts...)
}

func (m *Model) find(ctx context.Context, filter Filter, limit int) ([]Document, error) {
	col, err := m.collection()
	if err != nil {
		return nil, err
	}
	q := make(Filter, len(filter)+1)
	for k, v := range filter {
		q[k] = v
	}
	q[TypeKey] = m.name
	docs, err := col.Find(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", m.name, err)
	}
	return docs, nil
}

// hydrate normaliza tipos con el schema y expande los refs pedidos.
func (m *Model) hydrate(ctx context.Context, doc Document, o findOptions) (Document, error) {
	applied, err := m.schema.Apply(doc, m.idKey, TypeKey)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", m.name, err)
	}
	out := Document(applied)
	for _, field := range o.populate {
		if err := m.populate(ctx, out, field); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Model) populate(ctx context.Context, doc Document, field string) error {
	f, ok := m.schema.Field(field)
	if !ok || f.Type != schema.Ref {
		return fmt.Errorf("%s: populate %q: not a reference field", m.name, field)
	}
	key, _ := doc[field].(string)
	if key == "" {
		return nil
	}
	target, ok := m.h.Model(f.Ref)
	if !ok {
		return fmt.Errorf("%s: populate %q: model %q not registered", m.name, field, f.Ref)
	}
	ref, err := target.FindByID(ctx, key)
	if IsNotFound(err) {
		doc[field] = nil
		return nil
	}
	if err != nil {
		return err
	}
	doc[field] = ref
	return nil
}

// ─── Update / Remove ───

// FindOneAndUpdate reemplaza en el primer documento que cumple el filtro los
// campos de patch, conservando el resto. Retorna el documento actualizado.
func (m *Model) FindOneAndUpdate(ctx context.Context, filter Filter, patch Document) (out Document, err error) {
	defer m.observe("findOneAndUpdate", time.Now(), &err)
	current, err := m.findRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	id, _ := current[m.idKey].(string)
	merged := current.Clone()
	for k, v := range patch {
		if k == m.idKey || k == TypeKey {
			continue
		}
		merged[k] = v
	}
	col, err := m.collection()
	if err != nil {
		return nil, err
	}
	_, prepared, err := m.prepare(merged)
	if err != nil {
		return nil, err
	}
	if err := col.Upsert(ctx, id, prepared); err != nil {
		return nil, fmt.Errorf("%s: update %s: %w", m.name, id, err)
	}
	return prepared.Clone(), nil
}

// FindOneAndRemove borra el primer documento que cumple el filtro y lo retorna
// tal como estaba. ErrDocumentNotFound si no hay ninguno.
func (m *Model) FindOneAndRemove(ctx context.Context, filter Filter) (out Document, err error) {
	defer m.observe("findOneAndRemove", time.Now(), &err)
	current, err := m.findRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	id, _ := current[m.idKey].(string)
	col, err := m.collection()
	if err != nil {
		return nil, err
	}
	if err := col.Remove(ctx, id); err != nil {
		return nil, err
	}
	return current, nil
}

// RemoveByID borra por clave. ErrDocumentNotFound si no existe.
func (m *Model) RemoveByID(ctx context.Context, id string) (err error) {
	defer m.observe("removeById", time.Now(), &err)
	col, err := m.collection()
	if err != nil {
		return err
	}
	return col.Remove(ctx, id)
}

// RemoveMany borra uno a uno los documentos que cumplen el filtro y retorna
// cuántos borró. Los que desaparecen entre la búsqueda y el borrado no cuentan.
func (m *Model) RemoveMany(ctx context.Context, filter Filter) (n int, err error) {
	defer m.observe("removeMany", time.Now(), &err)
	docs, err := m.find(ctx, filter, 0)
	if err != nil {
		return 0, err
	}
	col, err := m.collection()
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		id, _ := doc[m.idKey].(string)
		if err := col.Remove(ctx, id); err != nil {
			if IsNotFound(err) {
				continue
			}
			return n, fmt.Errorf("%s: remove %s: %w", m.name, id, err)
		}
		n++
	}
	return n, nil
}

func (m *Model) findRaw(ctx context.Context, filter Filter) (Document, error) {
	docs, err := m.find(ctx, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return m.hydrate(ctx, docs[0], findOptions{})
}

func (m *Model) collection() (CollectionDriver, error) {
	conn, err := m.h.connection()
	if err != nil {
		return nil, err
	}
	return conn.Collection(m.name), nil
}

func (m *Model) observe(op string, start time.Time, err *error) {
	metrics.ObserveStoreOp(m.name, op, start, *err, IsNotFound(*err))
}
