package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - STORE
// =================================================================================

// Driver crea un campo para el driver del store.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// Bucket crea un campo para el bucket/database.
func Bucket(v string) zap.Field {
	return zap.String("bucket", v)
}

// Collection crea un campo para la colección.
func Collection(v string) zap.Field {
	return zap.String("collection", v)
}

// Index crea un campo para el nombre de un índice.
func Index(v string) zap.Field {
	return zap.String("index", v)
}

// DocID crea un campo para la clave de un documento.
func DocID(v string) zap.Field {
	return zap.String("doc_id", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// UserID crea un campo para el ID del usuario (su email).
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Provider crea un campo para el provider OAuth.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}
