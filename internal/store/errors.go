package store

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/couchauth/internal/schema"
)

var (
	// ErrDocumentNotFound indica que una búsqueda no encontró documento.
	// Los lectores del adapter lo convierten en nil; nunca llega al framework.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indica un insert sobre una clave ya ocupada.
	ErrDocumentExists = errors.New("document already exists")

	// ErrNotConnected indica que el handle no tiene conexión activa.
	ErrNotConnected = errors.New("store: not connected")

	// ErrUnknownIndex indica un finder con nombre que el schema no declara.
	ErrUnknownIndex = errors.New("store: unknown index")

	// ErrValidation indica que un documento no cumple su schema.
	ErrValidation = schema.ErrValidation
)

// ConnectionError envuelve un fallo del connect inicial del driver.
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store: connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsNotFound verifica si el error es ErrDocumentNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

// IsExists verifica si el error es ErrDocumentExists.
func IsExists(err error) bool {
	return errors.Is(err, ErrDocumentExists)
}

// IsConnection verifica si el error viene del connect inicial.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
