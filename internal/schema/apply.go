package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Apply valida y normaliza un documento contra el schema (modo estricto).
//
// Solo sobreviven los campos declarados y las claves listadas en keep (id key,
// discriminador). Los valores nil se descartan. Fechas y números se normalizan
// a time.Time (UTC) e int64/float64 respectivamente, así el resultado es el
// mismo venga el documento del caller o del driver.
func (s *Schema) Apply(doc map[string]any, keep ...string) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for _, k := range keep {
		if v, ok := doc[k]; ok && v != nil {
			out[k] = v
		}
	}

	for _, f := range s.fields {
		v, ok := doc[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, fmt.Errorf("%w: field %q is required", ErrValidation, f.Name)
			}
			continue
		}
		cv, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		if f.Required {
			if str, isStr := cv.(string); isStr && str == "" {
				return nil, fmt.Errorf("%w: field %q is required", ErrValidation, f.Name)
			}
		}
		out[f.Name] = cv
	}
	return out, nil
}

func coerce(f Field, v any) (any, error) {
	switch f.Type {
	case String, Ref:
		if str, ok := v.(string); ok {
			return str, nil
		}
	case Number:
		if n, ok := toNumber(v); ok {
			return n, nil
		}
	case Date:
		if t, ok := toTime(v); ok {
			return t, nil
		}
	case Embedded:
		return coerceList(f, v)
	}
	return nil, fmt.Errorf("%w: field %q expects %s, got %T", ErrValidation, f.Name, f.Type, v)
}

func coerceList(f Field, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: field %q expects a list, got %T", ErrValidation, f.Name, v)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		m, ok := asMap(rv.Index(i).Interface())
		if !ok {
			return nil, fmt.Errorf("%w: field %q item %d is not a document", ErrValidation, f.Name, i)
		}
		if f.Schema == nil {
			out = append(out, m)
			continue
		}
		sub, err := f.Schema.Apply(m, "id")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", f.Name, i, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// asMap acepta cualquier map con claves string (map[string]any o tipos
// nombrados con esa forma).
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func toNumber(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return normalizeFloat(float64(n)), true
	case float64:
		return normalizeFloat(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if fl, err := n.Float64(); err == nil {
			return fl, true
		}
	}
	return nil, false
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
