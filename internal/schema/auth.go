package schema

// Índices secundarios con nombre.
const (
	IndexByEmail        = "findByEmail"
	IndexBySessionToken = "findBySessionToken"
)

// User retorna el schema de usuarios. La clave natural es email.
// El campo accounts se agrega en el setup del store (ver WithAccounts).
func User() *Schema {
	s := New(
		Field{Name: "name", Type: String},
		Field{Name: "email", Type: String, Required: true},
		Field{Name: "emailVerified", Type: Date},
		Field{Name: "image", Type: String},
	)
	s.SetIndex(IndexByEmail, "email")
	return s
}

// Account retorna el schema de cuentas OAuth vinculadas.
func Account() *Schema {
	return New(
		Field{Name: "type", Type: String},
		Field{Name: "provider", Type: String},
		Field{Name: "providerAccountId", Type: String},
		Field{Name: "refresh_token", Type: String},
		Field{Name: "access_token", Type: String},
		Field{Name: "expires_at", Type: Number},
		Field{Name: "token_type", Type: String},
		Field{Name: "scope", Type: String},
		Field{Name: "id_token", Type: String},
		Field{Name: "oauth_token_secret", Type: String},
		Field{Name: "oauth_token", Type: String},
		Field{Name: "session_state", Type: String},
	)
}

// Session retorna el schema de sesiones. La clave es sessionToken; id se
// conserva como identificador de la sesión.
func Session() *Schema {
	s := New(
		Field{Name: "id", Type: String},
		Field{Name: "expires", Type: Date},
		Field{Name: "sessionToken", Type: String},
	)
	s.SetIndex(IndexBySessionToken, "sessionToken")
	return s
}

// VerificationToken retorna el schema de tokens de verificación.
// La clave es token.
func VerificationToken() *Schema {
	return New(
		Field{Name: "token", Type: String},
		Field{Name: "expires", Type: Date},
		Field{Name: "identifier", Type: String},
	)
}

// WithOwner agrega la referencia userId hacia la colección de usuarios.
func WithOwner(s *Schema, userCollection string) {
	s.Add(Field{Name: "userId", Type: Ref, Ref: userCollection})
}

// WithAccounts agrega la lista denormalizada de cuentas al schema de usuario.
func WithAccounts(user, account *Schema, accountCollection string) {
	user.Add(Field{Name: "accounts", Type: Embedded, Ref: accountCollection, Schema: account})
}
