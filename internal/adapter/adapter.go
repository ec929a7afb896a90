// Package adapter implementa la persistencia de usuarios, cuentas OAuth,
// sesiones y tokens de verificación sobre el store de documentos.
//
// Todas las operaciones pasan primero por ensureReady, que conecta el handle y
// registra los modelos la primera vez. Las lecturas que no encuentran nada
// retornan (nil, nil); cualquier otro error del store se propaga envuelto.
//
// Las operaciones de varios pasos (DeleteUser, LinkAccount, UnlinkAccount) no
// son atómicas: un fallo a mitad de camino deja estado parcial que sólo
// internal/reconcile detecta y repara.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/schema"
	"github.com/dropDatabas3/couchauth/internal/store"
)

// ErrUserNotFound indica una escritura que necesita un usuario existente.
var ErrUserNotFound = errors.New("user not found")

// CollectionNames permite renombrar las colecciones. Los vacíos toman el default.
type CollectionNames struct {
	User              string
	Account           string
	Session           string
	VerificationToken string
}

// DefaultCollectionNames retorna los nombres por defecto.
func DefaultCollectionNames() CollectionNames {
	return CollectionNames{
		User:              "User",
		Account:           "UserAccount",
		Session:           "UserSession",
		VerificationToken: "UserVerificationToken",
	}
}

func (n CollectionNames) withDefaults() CollectionNames {
	d := DefaultCollectionNames()
	if n.User != "" {
		d.User = n.User
	}
	if n.Account != "" {
		d.Account = n.Account
	}
	if n.Session != "" {
		d.Session = n.Session
	}
	if n.VerificationToken != "" {
		d.VerificationToken = n.VerificationToken
	}
	return d
}

// Options configura el adapter.
type Options struct {
	// Instance es el handle a usar. Si es nil se usa el compartido del
	// proceso, o uno nuevo con consistencia local.
	Instance *store.Handle
	// Connect se usa cuando el handle todavía no tiene conexión.
	Connect store.ConnectOptions

	// EnsureCollections y EnsureIndexes provisionan en el primer setup.
	// Sólo para arranque con un único proceso; nunca en tráfico productivo.
	EnsureCollections bool
	EnsureIndexes     bool

	CollectionNames CollectionNames
	Logger          *zap.Logger
}

// AuthAdapter es el contrato que consume el framework de autenticación.
type AuthAdapter interface {
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, pa ProviderAccount) (*User, error)
	UpdateUser(ctx context.Context, upd UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id string) (*User, error)
	LinkAccount(ctx context.Context, account Account) (*Account, error)
	UnlinkAccount(ctx context.Context, pa ProviderAccount) (*Account, error)
	CreateSession(ctx context.Context, session Session) (*Session, error)
	GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionAndUser, error)
	UpdateSession(ctx context.Context, upd SessionUpdate) (*Session, error)
	DeleteSession(ctx context.Context, sessionToken string) (*Session, error)
	CreateVerificationToken(ctx context.Context, token VerificationToken) (*VerificationToken, error)
	UseVerificationToken(ctx context.Context, params VerificationParams) (*VerificationToken, error)
}

var _ AuthAdapter = (*Adapter)(nil)

// Adapter implementa AuthAdapter.
type Adapter struct {
	lazy *initializer
	log  *zap.Logger
}

// New crea el adapter. No conecta: eso ocurre en la primera operación.
func New(opts Options) *Adapter {
	log := logger.OrNamed(opts.Logger, "adapter")
	return &Adapter{
		lazy: newInitializer(opts, log),
		log:  log,
	}
}

// Ready fuerza el setup (conexión + modelos) sin ejecutar ninguna operación.
func (a *Adapter) Ready(ctx context.Context) error {
	_, err := a.lazy.ensureReady(ctx)
	return err
}

// Handle retorna el handle resuelto, o nil si todavía no hubo setup.
func (a *Adapter) Handle() *store.Handle {
	return a.lazy.handle()
}

// CollectionNames retorna los nombres efectivos de las colecciones.
func (a *Adapter) CollectionNames() CollectionNames {
	return a.lazy.names
}

// ─── Usuarios ───

// CreateUser persiste un usuario nuevo. Falla si el email ya existe.
func (a *Adapter) CreateUser(ctx context.Context, user User) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.user.Create(ctx, userDocument(user))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return decodeUser(doc)
}

// GetUser busca por id (el email). nil si no existe.
func (a *Adapter) GetUser(ctx context.Context, id string) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.user.FindByID(ctx, id)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return decodeUser(doc)
}

// GetUserByEmail usa el índice por email. nil si no existe.
func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := m.user.FindByIndex(ctx, schema.IndexByEmail, email, store.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeUser(docs[0])
}

// GetUserByAccount retorna el dueño de la cuenta, sin el resumen de cuentas.
func (a *Adapter) GetUserByAccount(ctx context.Context, pa ProviderAccount) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.account.FindOne(ctx, providerFilter(pa), store.Populate("userId"))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by account: %w", err)
	}
	owner, ok := doc["userId"].(store.Document)
	if !ok {
		// cuenta huérfana: el usuario ya no existe
		return nil, nil
	}
	u, err := decodeUser(owner)
	if err != nil {
		return nil, err
	}
	u.Accounts = nil
	return u, nil
}

// UpdateUser mezcla los campos no nil sobre el usuario existente y lo guarda.
// El email es la clave del documento y no puede cambiar.
func (a *Adapter) UpdateUser(ctx context.Context, upd UserUpdate) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	current, err := m.user.FindByID(ctx, upd.ID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("update user %s: %w", upd.ID, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if upd.Email != nil && *upd.Email != upd.ID {
		return nil, fmt.Errorf("update user %s: %w: email cannot change", upd.ID, store.ErrValidation)
	}

	merged := current.Clone()
	if upd.Name != nil {
		merged["name"] = *upd.Name
	}
	if upd.Image != nil {
		merged["image"] = *upd.Image
	}
	if upd.EmailVerified != nil {
		merged["emailVerified"] = *upd.EmailVerified
	}
	doc, err := m.user.Save(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return decodeUser(doc)
}

// DeleteUser borra cuentas, luego sesiones y por último el usuario, en ese
// orden. Retorna el usuario borrado sin el resumen de cuentas, o nil.
func (a *Adapter) DeleteUser(ctx context.Context, id string) (*User, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	log := logger.From(ctx, a.log).With(logger.Op("deleteUser"), logger.UserID(id))

	accounts, err := m.account.RemoveMany(ctx, store.Filter{"userId": id})
	if err != nil {
		return nil, fmt.Errorf("delete user accounts: %w", err)
	}
	sessions, err := m.session.RemoveMany(ctx, store.Filter{"userId": id})
	if err != nil {
		return nil, fmt.Errorf("delete user sessions: %w", err)
	}
	doc, err := m.user.FindOneAndRemove(ctx, store.Filter{"email": id})
	if store.IsNotFound(err) {
		log.Debug("user absent", logger.Count(accounts+sessions))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete user: %w", err)
	}
	log.Debug("user deleted", logger.Int("accounts", accounts), logger.Int("sessions", sessions))

	u, err := decodeUser(doc)
	if err != nil {
		return nil, err
	}
	u.Accounts = nil
	return u, nil
}

// ─── Cuentas ───

// LinkAccount persiste la cuenta y agrega su resumen al usuario dueño.
func (a *Adapter) LinkAccount(ctx context.Context, account Account) (*Account, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := m.user.FindByID(ctx, account.UserID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("link account: %w: %s", ErrUserNotFound, account.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("link account: %w", err)
	}

	doc, err := m.account.Create(ctx, accountDocument(account))
	if err != nil {
		return nil, fmt.Errorf("link account: %w", err)
	}

	summaries, _ := owner["accounts"].([]any)
	owner["accounts"] = append(summaries, map[string]any(accountDocument(account)))
	if _, err := m.user.Save(ctx, owner); err != nil {
		return nil, fmt.Errorf("link account: save user: %w", err)
	}
	logger.From(ctx, a.log).Debug("account linked", logger.UserID(account.UserID), logger.Provider(account.Provider))
	return decodeAccount(doc)
}

// UnlinkAccount borra la cuenta y poda su resumen del usuario dueño.
func (a *Adapter) UnlinkAccount(ctx context.Context, pa ProviderAccount) (*Account, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.account.FindOneAndRemove(ctx, providerFilter(pa))
	if err != nil {
		return nil, fmt.Errorf("unlink account: %w", err)
	}
	removed, err := decodeAccount(doc)
	if err != nil {
		return nil, err
	}
	if err := pruneSummary(ctx, m.user, removed.UserID, pa); err != nil {
		return nil, fmt.Errorf("unlink account: %w", err)
	}
	return removed, nil
}

// pruneSummary quita del usuario los resúmenes de esa cuenta. Si el usuario
// ya no existe no hay nada que podar.
func pruneSummary(ctx context.Context, users *store.Model, userID string, pa ProviderAccount) error {
	if userID == "" {
		return nil
	}
	owner, err := users.FindByID(ctx, userID)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	summaries, _ := owner["accounts"].([]any)
	kept, dropped := filterSummaries(summaries, pa)
	if dropped == 0 {
		return nil
	}
	owner["accounts"] = kept
	_, err = users.Save(ctx, owner)
	return err
}

func filterSummaries(summaries []any, pa ProviderAccount) (kept []any, dropped int) {
	kept = make([]any, 0, len(summaries))
	for _, s := range summaries {
		m, ok := s.(map[string]any)
		if ok && m["provider"] == pa.Provider && m["providerAccountId"] == pa.ProviderAccountID {
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	return kept, dropped
}

func providerFilter(pa ProviderAccount) store.Filter {
	return store.Filter{"provider": pa.Provider, "providerAccountId": pa.ProviderAccountID}
}

// ─── Sesiones ───

// CreateSession persiste la sesión. sessionToken es la clave: repetirlo
// falla con store.ErrDocumentExists.
func (a *Adapter) CreateSession(ctx context.Context, session Session) (*Session, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	doc, err := m.session.Create(ctx, sessionDocument(session))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return decodeSession(doc)
}

// GetSessionAndUser retorna la sesión y su usuario, o nil si falta alguno.
func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionAndUser, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	sdoc, err := m.session.FindByID(ctx, sessionToken)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	session, err := decodeSession(sdoc)
	if err != nil {
		return nil, err
	}

	udoc, err := m.user.FindOne(ctx, store.Filter{"email": session.UserID})
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session user: %w", err)
	}
	user, err := decodeUser(udoc)
	if err != nil {
		return nil, err
	}
	return &SessionAndUser{Session: *session, User: *user}, nil
}

// UpdateSession reemplaza los campos dados en la sesión con ese token.
func (a *Adapter) UpdateSession(ctx context.Context, upd SessionUpdate) (*Session, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	patch := store.Document{"sessionToken": upd.SessionToken}
	if upd.Expires != nil {
		patch["expires"] = *upd.Expires
	}
	doc, err := m.session.FindOneAndUpdate(ctx, store.Filter{"sessionToken": upd.SessionToken}, patch)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return decodeSession(doc)
}

// DeleteSession borra la sesión con ese token y la retorna, o nil si no existía.
func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) (*Session, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.session.FindByID(ctx, sessionToken)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	err = m.session.RemoveByID(ctx, sessionToken)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return decodeSession(doc)
}

// ─── Tokens de verificación ───

// CreateVerificationToken persiste el token; token es la clave.
func (a *Adapter) CreateVerificationToken(ctx context.Context, token VerificationToken) (*VerificationToken, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.token.Create(ctx, tokenDocument(token))
	if err != nil {
		return nil, fmt.Errorf("create verification token: %w", err)
	}
	return decodeToken(doc)
}

// UseVerificationToken consume el token: lo retorna tal como estaba y lo borra.
// Si otro caller lo consumió entre la búsqueda y el borrado retorna nil.
func (a *Adapter) UseVerificationToken(ctx context.Context, params VerificationParams) (*VerificationToken, error) {
	m, err := a.lazy.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := m.token.FindOne(ctx, store.Filter{"identifier": params.Identifier, "token": params.Token})
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("use verification token: %w", err)
	}
	if err := m.token.RemoveByID(ctx, params.Token); err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("use verification token: %w", err)
	}
	return decodeToken(doc)
}
