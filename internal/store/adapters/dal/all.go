// Package dal importa todos los drivers para auto-registro.
// Importar este paquete en main.go para habilitar todos los drivers.
//
// Uso:
//
//	import _ "github.com/dropDatabas3/couchauth/internal/store/adapters/dal"
package dal

import (
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/couchbase"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/mongo"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/redis"
)
