// Package schema define la forma de los documentos persistidos por el adapter.
//
// Un Schema es una lista ordenada de campos tipados más un conjunto de índices
// secundarios con nombre. No tiene comportamiento en runtime más allá de
// validar y normalizar documentos (ver Apply); el store lo consume para
// derivar modelos y provisionar índices.
package schema

import (
	"errors"
	"sort"
)

// FieldType identifica el tipo de un campo.
type FieldType int

const (
	String FieldType = iota + 1
	Number
	Date
	// Ref guarda la clave de un documento de otra colección.
	Ref
	// Embedded guarda una lista de sub-documentos con la forma de otro schema.
	Embedded
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Number:
		return "number"
	case Date:
		return "date"
	case Ref:
		return "ref"
	case Embedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// ErrValidation indica que un documento no cumple su schema.
var ErrValidation = errors.New("validation failed")

// IsValidation verifica si el error es ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Field describe un campo del documento.
type Field struct {
	Name     string
	Type     FieldType
	Required bool

	// Ref es el nombre de la colección referida (Ref y Embedded).
	Ref string

	// Schema da forma a cada elemento de un campo Embedded.
	Schema *Schema
}

// Index es un índice secundario con nombre sobre un único campo.
type Index struct {
	Name string
	By   string
}

// Schema es el conjunto de campos de un tipo de documento.
type Schema struct {
	fields  []Field
	pos     map[string]int
	indexes map[string]Index
}

// New crea un schema con los campos dados.
func New(fields ...Field) *Schema {
	s := &Schema{
		pos:     make(map[string]int),
		indexes: make(map[string]Index),
	}
	s.Add(fields...)
	return s
}

// Add agrega campos al schema. Un campo con el mismo nombre que uno existente
// lo reemplaza en su posición original.
func (s *Schema) Add(fields ...Field) {
	for _, f := range fields {
		if i, ok := s.pos[f.Name]; ok {
			s.fields[i] = f
			continue
		}
		s.pos[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
}

// Field retorna el campo con ese nombre.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.pos[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Fields retorna una copia de los campos en orden de declaración.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Refs retorna los campos de tipo Ref.
func (s *Schema) Refs() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Type == Ref {
			out = append(out, f)
		}
	}
	return out
}

// SetIndex declara un índice secundario con nombre.
func (s *Schema) SetIndex(name, by string) {
	s.indexes[name] = Index{Name: name, By: by}
}

// Index retorna el índice con ese nombre.
func (s *Schema) Index(name string) (Index, bool) {
	idx, ok := s.indexes[name]
	return idx, ok
}

// Indexes retorna los índices ordenados por nombre.
func (s *Schema) Indexes() []Index {
	out := make([]Index, 0, len(s.indexes))
	for _, idx := range s.indexes {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
