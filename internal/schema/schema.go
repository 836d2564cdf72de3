// Package schema defines the Row and Schema types shared by every other
// package (columnar, filter, projection, aggregate, txlog, cdc) and the
// schema-inference rules of spec §4.2.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is a mapping from field name to value (spec §3). Values may be
// nil, bool, int32, int64, float64, string, []byte, time.Time, or a
// nested tree (map[string]any / []any) destined for the Variant codec.
type Row map[string]any

// Clone returns a shallow copy of r; nested maps/slices are not deep
// copied (callers that mutate nested structures should clone those
// themselves, matching the projection package's exclusion-mode contract).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Type enumerates the primitive (or variant) column types of spec §3/§4.2.
type Type string

const (
	TypeNull      Type = "null"
	TypeBool      Type = "boolean"
	TypeInt32     Type = "int32"
	TypeInt64     Type = "int64"
	TypeDouble    Type = "double"
	TypeString    Type = "string"
	TypeBinary    Type = "binary"
	TypeTimestamp Type = "timestamp"
	TypeVariant   Type = "variant"
)

// Field is one ordered entry of a Schema.
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Type     Type   `yaml:"type" json:"type"`
	Nullable bool   `yaml:"nullable" json:"nullable"`

	// Column-mapping metadata (spec §6, §9). Only populated when
	// delta.columnMapping.mode is set on the table.
	PhysicalName string `yaml:"physicalName,omitempty" json:"physicalName,omitempty"`
	FieldID      int64  `yaml:"fieldId,omitempty" json:"fieldId,omitempty"`
}

// Schema is an ordered sequence of Fields (spec §3).
type Schema struct {
	Fields []Field
}

// ByName returns the field named n, if present.
func (s Schema) ByName(n string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == n {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns field names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// MarshalSchemaString encodes s as the JSON `schemaString` carried on a
// MetadataAction (spec §3/§6).
func MarshalSchemaString(s Schema) (string, error) {
	b, err := json.Marshal(s.Fields)
	if err != nil {
		return "", fmt.Errorf("schema: marshal schemaString: %w", err)
	}
	return string(b), nil
}

// ParseSchemaString decodes a MetadataAction's `schemaString` back into
// a Schema.
func ParseSchemaString(s string) (Schema, error) {
	var fields []Field
	if s == "" {
		return Schema{}, nil
	}
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return Schema{}, fmt.Errorf("schema: parse schemaString: %w", err)
	}
	return Schema{Fields: fields}, nil
}

// InferType returns the spec §4.2 inferred type for v on first sight.
func InferType(v any) Type {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int32:
		return TypeInt32
	case int:
		return inferIntType(int64(v.(int)))
	case int64:
		return inferIntType(v.(int64))
	case float32, float64:
		return TypeDouble
	case string:
		return TypeString
	case []byte:
		return TypeBinary
	case time.Time:
		return TypeTimestamp
	case []any, map[string]any:
		return TypeVariant
	default:
		return TypeVariant
	}
}

func inferIntType(n int64) Type {
	if n >= -(1<<31) && n <= (1<<31)-1 {
		return TypeInt32
	}
	return TypeInt64
}

// Infer builds a Schema from the first row of a batch, per spec §4.2.
func Infer(first Row) Schema {
	names := make([]string, 0, len(first))
	for name := range first {
		names = append(names, name)
	}
	// Deterministic ordering: lexicographic, since map iteration order
	// is not. Real writers that care about column order should pass an
	// explicit schema instead of relying on inference.
	sortStrings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		v := first[name]
		fields = append(fields, Field{Name: name, Type: InferType(v), Nullable: v == nil})
	}
	return Schema{Fields: fields}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Reconcile validates row against schema per the widening/nullability
// rules of spec §4.2: later rows may relax nullability when nulls
// appear; the field set must be stable; int32->double widening is the
// only permitted type mismatch.
func Reconcile(s *Schema, row Row) error {
	seen := make(map[string]bool, len(row))
	for name, v := range row {
		seen[name] = true
		f, ok := s.ByName(name)
		if !ok {
			return fmt.Errorf("field set mismatch: unexpected field %q", name)
		}
		if v == nil {
			if !f.Nullable {
				for i := range s.Fields {
					if s.Fields[i].Name == name {
						s.Fields[i].Nullable = true
					}
				}
			}
			continue
		}
		got := InferType(v)
		if got == f.Type {
			continue
		}
		if f.Type == TypeDouble && got == TypeInt32 {
			continue // widening int32 -> double is permitted
		}
		if f.Type == TypeInt32 && got == TypeDouble {
			// Promote the declared field to double rather than fail: a
			// later batch introducing a fractional value is the common
			// case this widening rule exists for.
			for i := range s.Fields {
				if s.Fields[i].Name == name {
					s.Fields[i].Type = TypeDouble
				}
			}
			continue
		}
		return fmt.Errorf("type mismatch on field %q: schema has %s, row has %s", name, f.Type, got)
	}
	for _, f := range s.Fields {
		if !seen[f.Name] && !f.Nullable {
			return fmt.Errorf("field set mismatch: missing required field %q", f.Name)
		}
	}
	return nil
}
