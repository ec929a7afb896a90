// Package store provee el handle de documentos, los modelos por colección y
// el registry de drivers de base de datos documental.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Driver representa un motor documental capaz de abrir conexiones.
type Driver interface {
	// Name retorna el nombre del driver (ej: "couchbase", "mongo", "memory").
	Name() string

	// Connect establece conexión con el almacenamiento.
	Connect(ctx context.Context, cfg ConnectOptions) (Connection, error)
}

// Connection representa una conexión activa a un bucket/database.
type Connection interface {
	// Name retorna el nombre del driver.
	Name() string

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error

	// Collection retorna el acceso por clave/filtro a una colección.
	Collection(name string) CollectionDriver

	// ─── Provisioning (solo en arranque) ───

	// EnsureCollection crea la colección si falta.
	EnsureCollection(ctx context.Context, name string) error

	// EnsureIndex crea el índice si falta.
	EnsureIndex(ctx context.Context, collection string, idx IndexSpec) error
}

// CollectionDriver son las operaciones mínimas que cada motor implementa.
// Toda escritura de un documento individual es atómica.
type CollectionDriver interface {
	// Get retorna ErrDocumentNotFound si la clave no existe.
	Get(ctx context.Context, id string) (Document, error)

	// Insert retorna ErrDocumentExists si la clave ya existe.
	Insert(ctx context.Context, id string, doc Document) error

	// Upsert reemplaza el documento completo.
	Upsert(ctx context.Context, id string, doc Document) error

	// Remove retorna ErrDocumentNotFound si la clave no existe.
	Remove(ctx context.Context, id string) error

	// Find retorna los documentos que cumplen el filtro. limit <= 0 es sin límite.
	Find(ctx context.Context, filter Filter, limit int) ([]Document, error)
}

// IndexSpec describe un índice a provisionar.
type IndexSpec struct {
	// Primary pide el índice primario de la colección (Couchbase).
	Primary bool
	Name    string
	Fields  []string
}

// Consistency controla qué escrituras observan las consultas por filtro.
type Consistency int

const (
	// ConsistencyDefault: sin especificar. El handle aplica la suya y, si
	// tampoco tiene, ConsistencyLocal.
	ConsistencyDefault Consistency = iota
	// ConsistencyLocal: las consultas ven las escrituras previas de este handle.
	ConsistencyLocal
	// ConsistencyNone: las consultas pueden leer índices desactualizados.
	ConsistencyNone
	// ConsistencyGlobal: las consultas esperan a todas las escrituras del cluster.
	ConsistencyGlobal
)

// ConnectOptions configuración para conectar a un almacenamiento.
type ConnectOptions struct {
	// Driver: "couchbase", "mongo", "redis", "postgres", "memory"
	Driver string

	ConnectionString string
	BucketName       string

	// ScopeName scope de colecciones (Couchbase). Default "_default".
	ScopeName string

	Username string
	Password string

	// ConnectTimeout para el connect y la espera de bucket listo.
	ConnectTimeout time.Duration

	// KeyPrefix prefijo de claves (redis).
	KeyPrefix string

	Consistency Consistency
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
)

// RegisterDriver registra un driver en el registry global.
// Llamar en init() de cada driver.
func RegisterDriver(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := d.Name()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("driver: %q already registered", name))
	}
	drivers[name] = d
}

// GetDriver obtiene un driver por nombre.
func GetDriver(name string) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// ListDrivers retorna los nombres de todos los drivers registrados.
func ListDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDriver abre una conexión usando el driver especificado en la config.
func OpenDriver(ctx context.Context, cfg ConnectOptions) (Connection, error) {
	d, ok := GetDriver(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("driver: %q not registered", cfg.Driver)
	}
	if cfg.Consistency == ConsistencyDefault {
		cfg.Consistency = ConsistencyLocal
	}
	return d.Connect(ctx, cfg)
}
