package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/couchauth/internal/adapter"
	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/memory"
)

func newAdapter(t *testing.T) (*adapter.Adapter, *store.Handle) {
	t.Helper()
	h := store.NewHandle(store.HandleOptions{})
	t.Cleanup(func() { _ = h.Close() })
	a := adapter.New(adapter.Options{
		Instance: h,
		Connect:  store.ConnectOptions{Driver: "memory"},
	})
	return a, h
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetUser(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	created, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)
	require.Equal(t, "a@x.com", created.ID)
	require.Equal(t, "A", created.Name)

	got, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a@x.com", got.ID)
	require.Equal(t, "a@x.com", got.Email)
	require.Equal(t, "A", got.Name)

	byEmail, err := a.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	require.Equal(t, "a@x.com", byEmail.ID)
}

func TestGetUser_Absent(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	u, err := a.GetUser(ctx, "nobody@x.com")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = a.GetUserByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = a.GetUserByAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "1"})
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestCreateUser_RequiresEmail(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.CreateUser(context.Background(), adapter.User{Name: "no email"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateUser_EmailVerifiedRoundTrip(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	when := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)

	_, err := a.CreateUser(ctx, adapter.User{Email: "v@x.com", EmailVerified: &when})
	require.NoError(t, err)

	got, err := a.GetUser(ctx, "v@x.com")
	require.NoError(t, err)
	require.NotNil(t, got.EmailVerified)
	require.True(t, when.Equal(*got.EmailVerified))
}

func TestUpdateUser_MergesFields(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A", Image: "img"})
	require.NoError(t, err)

	updated, err := a.UpdateUser(ctx, adapter.UserUpdate{ID: "a@x.com", Name: strPtr("B")})
	require.NoError(t, err)
	require.Equal(t, "B", updated.Name)
	require.Equal(t, "img", updated.Image)
	require.Equal(t, "a@x.com", updated.ID)

	got, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "B", got.Name)
	require.Equal(t, "img", got.Image)
}

func TestUpdateUser_Missing(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.UpdateUser(context.Background(), adapter.UserUpdate{ID: "ghost@x.com", Name: strPtr("G")})
	require.ErrorIs(t, err, adapter.ErrUserNotFound)
}

func TestUpdateUser_EmailIsImmutable(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com"})
	require.NoError(t, err)

	_, err = a.UpdateUser(ctx, adapter.UserUpdate{ID: "a@x.com", Email: strPtr("b@x.com")})
	require.ErrorIs(t, err, store.ErrValidation)
}

func githubAccount(userID string) adapter.Account {
	exp := int64(1900000000)
	return adapter.Account{
		UserID:            userID,
		Type:              "oauth",
		Provider:          "github",
		ProviderAccountID: "gh-1",
		AccessToken:       "tok",
		ExpiresAt:         &exp,
	}
}

func TestLinkAccount_GetUserByAccount(t *testing.T) {
	a, h := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)

	acc, err := a.LinkAccount(ctx, githubAccount("a@x.com"))
	require.NoError(t, err)
	require.NotEmpty(t, acc.ID)
	require.Equal(t, "a@x.com", acc.UserID)
	require.Equal(t, int64(1900000000), *acc.ExpiresAt)

	owner, err := a.GetUserByAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-1"})
	require.NoError(t, err)
	require.NotNil(t, owner)
	require.Equal(t, "a@x.com", owner.ID)
	require.Empty(t, owner.Accounts)

	// el resumen vive en el usuario y la cuenta en su colección
	full, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, full.Accounts, 1)
	require.Equal(t, "github", full.Accounts[0].Provider)

	accounts, ok := h.Model("UserAccount")
	require.True(t, ok)
	stored, err := accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "gh-1", stored["providerAccountId"])
}

func TestLinkAccount_MissingUser(t *testing.T) {
	a, h := newAdapter(t)
	ctx := context.Background()

	_, err := a.LinkAccount(ctx, githubAccount("ghost@x.com"))
	require.ErrorIs(t, err, adapter.ErrUserNotFound)

	accounts, _ := h.Model("UserAccount")
	docs, err := accounts.Find(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestUnlinkAccount_PrunesSummary(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, githubAccount("a@x.com"))
	require.NoError(t, err)
	google := githubAccount("a@x.com")
	google.Provider, google.ProviderAccountID = "google", "g-1"
	_, err = a.LinkAccount(ctx, google)
	require.NoError(t, err)

	removed, err := a.UnlinkAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-1"})
	require.NoError(t, err)
	require.Equal(t, "gh-1", removed.ProviderAccountID)

	u, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, u.Accounts, 1)
	require.Equal(t, "google", u.Accounts[0].Provider)

	owner, err := a.GetUserByAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-1"})
	require.NoError(t, err)
	require.Nil(t, owner)

	_, err = a.UnlinkAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-1"})
	require.True(t, store.IsNotFound(err))
}

func TestDeleteUser_Cascades(t *testing.T) {
	a, h := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)
	_, err = a.CreateUser(ctx, adapter.User{Email: "b@x.com", Name: "B"})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, githubAccount("a@x.com"))
	require.NoError(t, err)
	other := githubAccount("b@x.com")
	other.ProviderAccountID = "gh-2"
	_, err = a.LinkAccount(ctx, other)
	require.NoError(t, err)

	exp := time.Now().Add(time.Hour).UTC()
	_, err = a.CreateSession(ctx, adapter.Session{SessionToken: "s1", UserID: "a@x.com", Expires: exp})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, adapter.Session{SessionToken: "s2", UserID: "a@x.com", Expires: exp})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, adapter.Session{SessionToken: "s3", UserID: "b@x.com", Expires: exp})
	require.NoError(t, err)

	deleted, err := a.DeleteUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	require.Equal(t, "a@x.com", deleted.Email)
	require.Equal(t, "A", deleted.Name)
	require.Empty(t, deleted.Accounts)

	u, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, u)

	owner, err := a.GetUserByAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-1"})
	require.NoError(t, err)
	require.Nil(t, owner)

	sessions, _ := h.Model("UserSession")
	left, err := sessions.Find(ctx, store.Filter{"userId": "a@x.com"})
	require.NoError(t, err)
	require.Empty(t, left)

	// el otro usuario queda intacto
	owner, err = a.GetUserByAccount(ctx, adapter.ProviderAccount{Provider: "github", ProviderAccountID: "gh-2"})
	require.NoError(t, err)
	require.Equal(t, "b@x.com", owner.ID)
	sa, err := a.GetSessionAndUser(ctx, "s3")
	require.NoError(t, err)
	require.NotNil(t, sa)
}

func TestDeleteUser_Absent(t *testing.T) {
	a, _ := newAdapter(t)
	u, err := a.DeleteUser(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestSessionLifecycle(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)

	t1 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC)

	s, err := a.CreateSession(ctx, adapter.Session{SessionToken: "tok", UserID: "a@x.com", Expires: t1})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.True(t, t1.Equal(s.Expires))

	sa, err := a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, sa)
	require.Equal(t, "tok", sa.Session.SessionToken)
	require.Equal(t, "a@x.com", sa.User.ID)

	updated, err := a.UpdateSession(ctx, adapter.SessionUpdate{SessionToken: "tok", Expires: &t2})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Equal(t, "tok", updated.SessionToken)
	require.Equal(t, "a@x.com", updated.UserID)
	require.Equal(t, s.ID, updated.ID)
	require.True(t, t2.Equal(updated.Expires))

	sa, err = a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	require.True(t, t2.Equal(sa.Session.Expires))

	removed, err := a.DeleteSession(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, removed)
	require.Equal(t, "tok", removed.SessionToken)

	sa, err = a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	require.Nil(t, sa)
}

func TestCreateSession_TokenIsUnique(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com"})
	require.NoError(t, err)
	first, err := a.CreateSession(ctx, adapter.Session{SessionToken: "dup", UserID: "a@x.com", Expires: exp})
	require.NoError(t, err)

	_, err = a.CreateSession(ctx, adapter.Session{SessionToken: "dup", UserID: "a@x.com", Expires: exp.Add(time.Hour)})
	require.ErrorIs(t, err, store.ErrDocumentExists)

	removed, err := a.DeleteSession(ctx, "dup")
	require.NoError(t, err)
	require.NotNil(t, removed)
	require.Equal(t, first.ID, removed.ID)

	sa, err := a.GetSessionAndUser(ctx, "dup")
	require.NoError(t, err)
	require.Nil(t, sa)
}

func TestCreateSession_RequiresToken(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.CreateSession(context.Background(), adapter.Session{UserID: "a@x.com", Expires: time.Now()})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestSession_AbsentPaths(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	t1 := time.Now().UTC()

	updated, err := a.UpdateSession(ctx, adapter.SessionUpdate{SessionToken: "nope", Expires: &t1})
	require.NoError(t, err)
	require.Nil(t, updated)

	removed, err := a.DeleteSession(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, removed)

	// sesión cuyo usuario no existe
	_, err = a.CreateSession(ctx, adapter.Session{SessionToken: "orphan", UserID: "ghost@x.com", Expires: t1})
	require.NoError(t, err)
	sa, err := a.GetSessionAndUser(ctx, "orphan")
	require.NoError(t, err)
	require.Nil(t, sa)
}

func TestVerificationToken_SingleUse(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := a.CreateVerificationToken(ctx, adapter.VerificationToken{Identifier: "a@x.com", Token: "t1", Expires: exp})
	require.NoError(t, err)
	require.Equal(t, "t1", created.Token)

	params := adapter.VerificationParams{Identifier: "a@x.com", Token: "t1"}
	used, err := a.UseVerificationToken(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, used)
	require.Equal(t, "a@x.com", used.Identifier)
	require.True(t, exp.Equal(used.Expires))

	again, err := a.UseVerificationToken(ctx, params)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestVerificationToken_IdentifierMustMatch(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateVerificationToken(ctx, adapter.VerificationToken{Identifier: "a@x.com", Token: "t1", Expires: time.Now()})
	require.NoError(t, err)

	used, err := a.UseVerificationToken(ctx, adapter.VerificationParams{Identifier: "b@x.com", Token: "t1"})
	require.NoError(t, err)
	require.Nil(t, used)

	used, err = a.UseVerificationToken(ctx, adapter.VerificationParams{Identifier: "a@x.com", Token: "t1"})
	require.NoError(t, err)
	require.NotNil(t, used)
}

// Escenario completo: alta, lectura, baja y lectura vacía.
func TestUserScenario(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)

	got, err := a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, &adapter.User{ID: "a@x.com", Email: "a@x.com", Name: "A"}, got)

	deleted, err := a.DeleteUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, &adapter.User{ID: "a@x.com", Email: "a@x.com", Name: "A"}, deleted)

	got, err = a.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCustomCollectionNames(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	t.Cleanup(func() { _ = h.Close() })
	a := adapter.New(adapter.Options{
		Instance:        h,
		Connect:         store.ConnectOptions{Driver: "memory"},
		CollectionNames: adapter.CollectionNames{Session: "Sessions"},
	})
	require.NoError(t, a.Ready(context.Background()))
	require.Equal(t, []string{"Sessions", "User", "UserAccount", "UserVerificationToken"}, h.ModelNames())
	require.Equal(t, "Sessions", a.CollectionNames().Session)
	require.Same(t, h, a.Handle())
}

func TestConnectFailure(t *testing.T) {
	h := store.NewHandle(store.HandleOptions{})
	a := adapter.New(adapter.Options{
		Instance: h,
		Connect:  store.ConnectOptions{Driver: "does-not-exist"},
	})
	_, err := a.GetUser(context.Background(), "a@x.com")
	require.Error(t, err)
	require.True(t, store.IsConnection(err))
}

func TestDeleteUser_LogsToContextLogger(t *testing.T) {
	a, _ := newAdapter(t)
	core, logs := observer.New(zap.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	_, err := a.CreateUser(ctx, adapter.User{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = a.DeleteUser(ctx, "a@x.com")
	require.NoError(t, err)

	entries := logs.FilterMessage("user deleted").All()
	require.Len(t, entries, 1)
	require.Equal(t, "deleteUser", entries[0].ContextMap()["op"])
	require.Equal(t, "a@x.com", entries[0].ContextMap()["user_id"])
}
