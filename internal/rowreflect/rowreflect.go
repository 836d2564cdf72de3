// Package rowreflect converts between Go structs and schema.Row maps
// using field reflection, backing Table.WriteStructs so callers can
// write typed slices without hand-building rows.
package rowreflect

import (
	"fmt"
	"reflect"

	"github.com/tkrajina/go-reflector/reflector"

	"github.com/deltaforge/deltalake/internal/schema"
)

// tagName is the struct tag consulted for the row column name, falling
// back to the Go field name when absent or "-".
const tagName = "delta"

// ToRow flattens one struct (or pointer to struct) into a schema.Row
// using its exported fields. A field tagged `delta:"-"` is skipped.
func ToRow(v any) (schema.Row, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return schema.Row{}, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("rowreflect: %T is not a struct", v)
	}

	obj := reflector.New(rv.Interface())
	fields, err := obj.FieldsFlattened()
	if err != nil {
		return nil, fmt.Errorf("rowreflect: %w", err)
	}

	row := make(schema.Row, len(fields))
	for _, f := range fields {
		name, skip := columnName(f)
		if skip {
			continue
		}
		val, err := f.Get()
		if err != nil {
			return nil, fmt.Errorf("rowreflect: reading field %s: %w", f.Name(), err)
		}
		row[name] = val
	}
	return row, nil
}

// ToRows flattens a slice of structs into rows, in order.
func ToRows(v any) ([]schema.Row, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("rowreflect: %T is not a slice", v)
	}
	rows := make([]schema.Row, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		row, err := ToRow(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

// FromRow populates dst (a pointer to struct) from row, matching
// fields by column name. Unknown row keys are ignored; struct fields
// absent from row are left at their zero value.
func FromRow(row schema.Row, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("rowreflect: dst must be a pointer to struct, got %T", dst)
	}

	obj := reflector.New(dst)
	fields, err := obj.FieldsFlattened()
	if err != nil {
		return fmt.Errorf("rowreflect: %w", err)
	}

	for _, f := range fields {
		name, skip := columnName(f)
		if skip {
			continue
		}
		val, ok := row[name]
		if !ok || val == nil {
			continue
		}
		if err := f.Set(val); err != nil {
			current, getErr := f.Get()
			coerced, ok2 := coerceAssignable(current, val)
			if getErr != nil || !ok2 {
				return fmt.Errorf("rowreflect: setting field %s: %w", f.Name(), err)
			}
			if err2 := f.Set(coerced); err2 != nil {
				return fmt.Errorf("rowreflect: setting field %s: %w", f.Name(), err2)
			}
		}
	}
	return nil
}

// columnName derives the row key for a reflected field, honoring the
// "delta" tag, and reports skip=true for `delta:"-"`.
func columnName(f reflector.ObjField) (name string, skip bool) {
	if tag, err := f.Tag(tagName); err == nil && tag != "" {
		if tag == "-" {
			return "", true
		}
		return tag, false
	}
	return f.Name(), false
}

// coerceAssignable retries a field assignment after converting val to
// match current's type, covering the common case of numeric
// widening/narrowing between JSON-ish values (e.g. int -> int64).
func coerceAssignable(current any, val any) (any, bool) {
	target := reflect.TypeOf(current)
	rv := reflect.ValueOf(val)
	if target == nil || !rv.IsValid() || !rv.Type().ConvertibleTo(target) {
		return nil, false
	}
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
		return rv.Convert(target).Interface(), true
	}
	return nil, false
}
