package adapter

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/dropDatabas3/couchauth/internal/store"
)

// decode vuelca un documento hidratado en un struct usando los tags json.
// Las fechas ya llegan como time.Time desde el schema.
func decode(doc store.Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(doc)); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}

func decodeUser(doc store.Document) (*User, error) {
	var u User
	if err := decode(doc, &u); err != nil {
		return nil, err
	}
	u.ID = u.Email
	return &u, nil
}

func decodeAccount(doc store.Document) (*Account, error) {
	var a Account
	if err := decode(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeSession(doc store.Document) (*Session, error) {
	var s Session
	if err := decode(doc, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeToken(doc store.Document) (*VerificationToken, error) {
	var t VerificationToken
	if err := decode(doc, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ─── struct → Document ───
// Los campos vacíos no se escriben; el schema descarta los nil.

func putString(doc store.Document, key, v string) {
	if v != "" {
		doc[key] = v
	}
}

func userDocument(u User) store.Document {
	doc := store.Document{"email": u.Email}
	putString(doc, "name", u.Name)
	putString(doc, "image", u.Image)
	if u.EmailVerified != nil {
		doc["emailVerified"] = *u.EmailVerified
	}
	if len(u.Accounts) > 0 {
		doc["accounts"] = accountList(u.Accounts)
	}
	return doc
}

func accountDocument(a Account) store.Document {
	doc := store.Document{}
	putString(doc, "id", a.ID)
	putString(doc, "userId", a.UserID)
	putString(doc, "type", a.Type)
	putString(doc, "provider", a.Provider)
	putString(doc, "providerAccountId", a.ProviderAccountID)
	putString(doc, "refresh_token", a.RefreshToken)
	putString(doc, "access_token", a.AccessToken)
	putString(doc, "token_type", a.TokenType)
	putString(doc, "scope", a.Scope)
	putString(doc, "id_token", a.IDToken)
	putString(doc, "oauth_token_secret", a.OAuthTokenSecret)
	putString(doc, "oauth_token", a.OAuthToken)
	putString(doc, "session_state", a.SessionState)
	if a.ExpiresAt != nil {
		doc["expires_at"] = *a.ExpiresAt
	}
	return doc
}

func accountList(accounts []Account) []any {
	out := make([]any, len(accounts))
	for i, a := range accounts {
		out[i] = map[string]any(accountDocument(a))
	}
	return out
}

func sessionDocument(s Session) store.Document {
	doc := store.Document{"sessionToken": s.SessionToken, "expires": s.Expires}
	putString(doc, "id", s.ID)
	putString(doc, "userId", s.UserID)
	return doc
}

func tokenDocument(t VerificationToken) store.Document {
	return store.Document{
		"identifier": t.Identifier,
		"token":      t.Token,
		"expires":    t.Expires,
	}
}
