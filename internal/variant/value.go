// Package variant implements the self-describing binary encoding for
// heterogeneous values described in spec §4.3, operating on the typed
// Value sum type recommended by Design Notes §9 instead of ad-hoc
// interface{} juggling at every call site.
package variant

import "time"

// Kind discriminates a Value's shape.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindDouble
	KindTimestamp
	KindBinary
	KindString
	KindArray
	KindObject
)

// Value is the typed sum type every Variant node decodes into.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Double float64
	Ts     time.Time
	Bin    []byte
	Str    string
	Arr    []Value
	Obj    map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int32(n int32) Value        { return Value{Kind: KindInt32, Int: int64(n)} }
func Int64(n int64) Value        { return Value{Kind: KindInt64, Int: n} }
func Double(f float64) Value     { return Value{Kind: KindDouble, Double: f} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Ts: t} }
func Binary(b []byte) Value      { return Value{Kind: KindBinary, Bin: b} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Array(v ...Value) Value     { return Value{Kind: KindArray, Arr: v} }
func Object(m map[string]Value) Value { return Value{Kind: KindObject, Obj: m} }

// FromAny converts a loosely-typed Go value (as produced by JSON decode
// or the row-level API) into a Value, picking the smallest integer kind
// that fits, matching the schema inference rules of spec §4.2.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return fromInt64(int64(x))
	case int32:
		return Int32(x)
	case int64:
		return fromInt64(x)
	case float32:
		return Double(float64(x))
	case float64:
		return Double(x)
	case string:
		return String(x)
	case []byte:
		return Binary(x)
	case time.Time:
		return Timestamp(x)
	case []any:
		arr := make([]Value, len(x))
		for i, e := range x {
			arr[i] = FromAny(e)
		}
		return Value{Kind: KindArray, Arr: arr}
	case []Value:
		return Value{Kind: KindArray, Arr: x}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return Value{Kind: KindObject, Obj: obj}
	case map[string]Value:
		return Value{Kind: KindObject, Obj: x}
	case Value:
		return x
	default:
		return Null()
	}
}

func fromInt64(n int64) Value {
	if n >= -(1<<31) && n <= (1<<31)-1 {
		return Int32(int32(n))
	}
	return Int64(n)
}

// ToAny converts a Value back to the loosely-typed Go representation
// used at the row-level API boundary.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt8, KindInt16, KindInt32:
		return int32(v.Int)
	case KindInt64:
		return v.Int
	case KindDouble:
		return v.Double
	case KindTimestamp:
		return v.Ts
	case KindBinary:
		return v.Bin
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Equal performs a structural comparison, used by the round-trip test law.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return a.Int == b.Int
	case KindDouble:
		return a.Double == b.Double
	case KindTimestamp:
		return a.Ts.Equal(b.Ts)
	case KindBinary:
		return string(a.Bin) == string(b.Bin)
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Obj) != len(b.Obj) {
			return false
		}
		for k, av := range a.Obj {
			bv, ok := b.Obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
