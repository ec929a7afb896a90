package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/schema"
)

// HandleOptions configura un Handle nuevo.
type HandleOptions struct {
	// Consistency por defecto para las conexiones que abra el handle.
	Consistency Consistency
	Logger      *zap.Logger
}

// Handle es la instancia del store: una conexión más el registry de modelos
// por nombre de colección.
type Handle struct {
	mu     sync.RWMutex
	conn   Connection
	models map[string]*Model

	consistency Consistency
	log         *zap.Logger
}

// NewHandle crea un handle sin conexión.
func NewHandle(opts HandleOptions) *Handle {
	return &Handle{
		models:      make(map[string]*Model),
		consistency: opts.Consistency,
		log:         logger.OrNamed(opts.Logger, "store"),
	}
}

// ─── Instancia compartida del proceso ───

var defaultHandle atomic.Pointer[Handle]

// Default retorna la instancia compartida del proceso (nil si no hay).
func Default() *Handle {
	return defaultHandle.Load()
}

// SetDefault reemplaza la instancia compartida. nil la limpia.
func SetDefault(h *Handle) {
	defaultHandle.Store(h)
}

// DefaultOrNew retorna la instancia compartida o crea una nueva con opts y la
// publica como compartida. Dos llamadas concurrentes obtienen la misma.
func DefaultOrNew(opts HandleOptions) *Handle {
	if h := defaultHandle.Load(); h != nil {
		return h
	}
	h := NewHandle(opts)
	if defaultHandle.CompareAndSwap(nil, h) {
		return h
	}
	return defaultHandle.Load()
}

// ─── Conexión ───

// Connected indica si el handle tiene una conexión activa.
func (h *Handle) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Connect abre la conexión si el handle no tiene una. Un fallo del driver se
// retorna como *ConnectionError.
func (h *Handle) Connect(ctx context.Context, cfg ConnectOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return nil
	}
	if cfg.Consistency == ConsistencyDefault {
		cfg.Consistency = h.consistency
	}
	conn, err := OpenDriver(ctx, cfg)
	if err != nil {
		return &ConnectionError{Driver: cfg.Driver, Err: err}
	}
	h.conn = conn
	h.log.Info("store connected", logger.Driver(conn.Name()), logger.Bucket(cfg.BucketName))
	return nil
}

// Ping verifica la conexión activa.
func (h *Handle) Ping(ctx context.Context) error {
	conn, err := h.connection()
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

// Close cierra la conexión. Los modelos registrados se conservan.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

func (h *Handle) connection() (Connection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conn == nil {
		return nil, ErrNotConnected
	}
	return h.conn, nil
}

// ─── Modelos ───

// ModelOptions configura el registro de un modelo.
type ModelOptions struct {
	// IDKey es el campo usado como clave del documento. Default "id", que se
	// genera como UUID si el documento no lo trae.
	IDKey string
}

// Model retorna el modelo registrado para esa colección.
func (h *Handle) Model(name string) (*Model, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.models[name]
	return m, ok
}

// RegisterModel liga un schema a una colección. Si ya existe un modelo con ese
// nombre lo retorna sin tocarlo (created = false).
func (h *Handle) RegisterModel(name string, s *schema.Schema, opts ModelOptions) (m *Model, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.models[name]; ok {
		return existing, false
	}
	if opts.IDKey == "" {
		opts.IDKey = DefaultIDKey
	}
	m = &Model{name: name, schema: s, idKey: opts.IDKey, h: h}
	h.models[name] = m
	return m, true
}

// ModelNames retorna los nombres de colección registrados, ordenados.
func (h *Handle) ModelNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.models))
	for name := range h.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ─── Provisioning ───

// EnsureCollections crea las colecciones faltantes de todos los modelos.
// Secuencial; pensado para un único caller en el arranque.
func (h *Handle) EnsureCollections(ctx context.Context) error {
	conn, err := h.connection()
	if err != nil {
		return err
	}
	for _, name := range h.ModelNames() {
		if err := conn.EnsureCollection(ctx, name); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
		h.log.Debug("collection ensured", logger.Collection(name))
	}
	return nil
}

// EnsureIndexes crea el índice primario y los índices declarados en cada schema.
// Mismas restricciones que EnsureCollections.
func (h *Handle) EnsureIndexes(ctx context.Context) error {
	conn, err := h.connection()
	if err != nil {
		return err
	}
	for _, name := range h.ModelNames() {
		m, _ := h.Model(name)
		specs := []IndexSpec{{Primary: true, Name: "primary"}}
		for _, idx := range m.schema.Indexes() {
			specs = append(specs, IndexSpec{Name: idx.Name, Fields: []string{idx.By}})
		}
		for _, spec := range specs {
			if err := conn.EnsureIndex(ctx, name, spec); err != nil {
				return fmt.Errorf("ensure index %s.%s: %w", name, spec.Name, err)
			}
			h.log.Debug("index ensured", logger.Collection(name), logger.Index(spec.Name))
		}
	}
	return nil
}
