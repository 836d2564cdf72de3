package variant

import (
	"testing"
	"time"
)

func roundtrip(t *testing.T, v Value) {
	t.Helper()
	md, val := Encode(v)
	got, err := Decode(md, val)
	if err != nil {
		t.Fatalf("decode(%v) failed: %v", v, err)
	}
	if !Equal(v, got) {
		t.Fatalf("round-trip mismatch: want %+v, got %+v", v, got)
	}
}

func TestRoundTripPrimitives(t *testing.T) {
	roundtrip(t, Null())
	roundtrip(t, Bool(true))
	roundtrip(t, Bool(false))
	roundtrip(t, Int32(42))
	roundtrip(t, Int32(-7))
	roundtrip(t, Int64(1<<40))
	roundtrip(t, Double(3.14159))
	roundtrip(t, String("hello"))
	roundtrip(t, Binary([]byte{1, 2, 3, 4}))
	roundtrip(t, Timestamp(time.UnixMicro(1700000000123456).UTC()))
}

func TestRoundTripInt16RangeValues(t *testing.T) {
	roundtrip(t, Int32(200))
	roundtrip(t, Int32(32767))
	roundtrip(t, Int32(-32768))
	roundtrip(t, Int32(-129))
}

func TestRoundTripLongString(t *testing.T) {
	s := ""
	for i := 0; i < 200; i++ {
		s += "x"
	}
	roundtrip(t, String(s))
}

func TestRoundTripArray(t *testing.T) {
	roundtrip(t, Array(Int32(1), String("a"), Null(), Bool(true)))
}

func TestRoundTripNestedObject(t *testing.T) {
	v := Object(map[string]Value{
		"name": String("alice"),
		"age":  Int32(30),
		"tags": Array(String("x"), String("y")),
		"meta": Object(map[string]Value{
			"active": Bool(true),
		}),
	})
	roundtrip(t, v)
}

func TestRoundTripHeterogeneousArray(t *testing.T) {
	roundtrip(t, Array(Int32(1), Double(2.5), String("s"), Object(map[string]Value{"k": Bool(false)})))
}

func TestDecodeMalformedBuffer(t *testing.T) {
	md, _ := Encode(String("x"))
	_, err := Decode(md, []byte{})
	if err == nil {
		t.Fatal("expected validation error on empty value buffer")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func asValidationError(err error, out **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*out = ve
	}
	return ok
}

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"a": int64(5),
		"b": "s",
		"c": []any{int64(1), int64(2)},
	}
	v := FromAny(in)
	md, val := Encode(v)
	got, err := Decode(md, val)
	if err != nil {
		t.Fatal(err)
	}
	_ = got.ToAny()
}
