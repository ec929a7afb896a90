package adapter

import (
	"time"
)

// User es el usuario tal como lo ve el framework. ID siempre es el email.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"emailVerified,omitempty"`
	Image         string     `json:"image,omitempty"`

	// Accounts es el resumen denormalizado de cuentas vinculadas. Se omite en
	// GetUserByAccount y DeleteUser.
	Accounts []Account `json:"accounts,omitempty"`
}

// UserUpdate es un update parcial: los campos nil no se tocan.
type UserUpdate struct {
	ID            string
	Name          *string
	Email         *string
	EmailVerified *time.Time
	Image         *string
}

// Account es una cuenta OAuth vinculada a un usuario.
type Account struct {
	ID                string `json:"id,omitempty"`
	UserID            string `json:"userId"`
	Type              string `json:"type"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	RefreshToken      string `json:"refresh_token,omitempty"`
	AccessToken       string `json:"access_token,omitempty"`
	ExpiresAt         *int64 `json:"expires_at,omitempty"`
	TokenType         string `json:"token_type,omitempty"`
	Scope             string `json:"scope,omitempty"`
	IDToken           string `json:"id_token,omitempty"`
	OAuthTokenSecret  string `json:"oauth_token_secret,omitempty"`
	OAuthToken        string `json:"oauth_token,omitempty"`
	SessionState      string `json:"session_state,omitempty"`
}

// ProviderAccount identifica una cuenta por proveedor.
type ProviderAccount struct {
	Provider          string
	ProviderAccountID string
}

// Session es una sesión de base de datos.
type Session struct {
	ID           string    `json:"id,omitempty"`
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

// SessionUpdate reemplaza los campos no nil de la sesión con ese token.
type SessionUpdate struct {
	SessionToken string
	Expires      *time.Time
}

// SessionAndUser es el resultado de GetSessionAndUser.
type SessionAndUser struct {
	Session Session
	User    User
}

// VerificationToken es un token de verificación de un solo uso.
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// VerificationParams identifica un token a consumir.
type VerificationParams struct {
	Identifier string
	Token      string
}
