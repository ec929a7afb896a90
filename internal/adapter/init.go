package adapter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/schema"
	"github.com/dropDatabas3/couchauth/internal/store"
)

const provisioningWarning = "do not use ensureCollections and ensureIndexes together in production"

type initState uint8

const (
	stateUninitialized initState = iota
	stateReady
)

// models son los repositorios ya ligados a sus colecciones.
type models struct {
	user    *store.Model
	account *store.Model
	session *store.Model
	token   *store.Model
}

// initializer resuelve el handle y registra los modelos una sola vez.
// Las llamadas posteriores sólo reabren la conexión si se cerró.
type initializer struct {
	mu     sync.Mutex
	state  initState
	h      *store.Handle
	models models

	opts  Options
	names CollectionNames
	log   *zap.Logger
}

func newInitializer(opts Options, log *zap.Logger) *initializer {
	return &initializer{
		opts:  opts,
		names: opts.CollectionNames.withDefaults(),
		log:   log,
	}
}

// ensureReady es idempotente y seguro para llamar antes de cada operación.
func (in *initializer) ensureReady(ctx context.Context) (*models, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.h == nil {
		in.h = in.resolveHandle()
	}
	if !in.h.Connected() {
		if err := in.h.Connect(ctx, in.opts.Connect); err != nil {
			return nil, err
		}
	}
	if in.state == stateReady {
		return &in.models, nil
	}
	if err := in.setup(ctx); err != nil {
		return nil, err
	}
	in.state = stateReady
	return &in.models, nil
}

// resolveHandle: instancia explícita, si no la compartida del proceso, si no
// una nueva con consistencia local publicada como compartida.
func (in *initializer) resolveHandle() *store.Handle {
	if in.opts.Instance != nil {
		return in.opts.Instance
	}
	if h := store.Default(); h != nil {
		return h
	}
	return store.DefaultOrNew(store.HandleOptions{
		Consistency: store.ConsistencyLocal,
		Logger:      in.opts.Logger,
	})
}

func (in *initializer) setup(ctx context.Context) error {
	in.log.Info("setting up auth models",
		logger.String("user", in.names.User),
		logger.String("account", in.names.Account),
		logger.String("session", in.names.Session),
		logger.String("verificationToken", in.names.VerificationToken))

	user := schema.User()
	account := schema.Account()
	session := schema.Session()
	schema.WithOwner(account, in.names.User)
	schema.WithOwner(session, in.names.User)
	schema.WithAccounts(user, account, in.names.Account)

	var created int
	register := func(name string, s *schema.Schema, idKey string) *store.Model {
		m, isNew := in.h.RegisterModel(name, s, store.ModelOptions{IDKey: idKey})
		if isNew {
			created++
		}
		return m
	}
	in.models = models{
		account: register(in.names.Account, account, store.DefaultIDKey),
		user:    register(in.names.User, user, "email"),
		session: register(in.names.Session, session, "sessionToken"),
		token:   register(in.names.VerificationToken, schema.VerificationToken(), "token"),
	}

	if in.opts.EnsureCollections {
		if err := in.h.EnsureCollections(ctx); err != nil {
			return err
		}
	}
	if in.opts.EnsureIndexes {
		if err := in.h.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	if in.opts.EnsureCollections && in.opts.EnsureIndexes {
		in.log.Warn(provisioningWarning)
	}
	in.log.Info("auth model setup completed", logger.Count(created))
	return nil
}

// handle retorna el handle resuelto (nil antes del primer ensureReady).
func (in *initializer) handle() *store.Handle {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.h
}
