package store

import (
	"reflect"
	"sort"
	"time"
)

// TypeKey es el discriminador que el store agrega a cada documento.
// No debe cruzar el borde del adapter.
const TypeKey = "_type"

// Document es un documento tal como lo ve el store.
type Document map[string]any

// Filter es un predicado de igualdad exacta campo a campo.
type Filter map[string]any

// Clone retorna una copia profunda de maps y slices.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

// String retorna el campo como string ("" si no existe o no es string).
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Keys retorna las claves del filtro ordenadas, para construir queries estables.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches verifica si el documento cumple todos los campos del filtro.
// Lo usan los drivers sin motor de consultas (memory, redis).
func Matches(doc Document, f Filter) bool {
	for k, want := range f {
		got, ok := doc[k]
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
