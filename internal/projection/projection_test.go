package projection

import (
	"reflect"
	"testing"

	"github.com/deltaforge/deltalake/internal/schema"
)

func TestIncludeFlatFields(t *testing.T) {
	p, err := Parse([]any{"id", "name"})
	if err != nil {
		t.Fatal(err)
	}
	row := schema.Row{"id": int64(1), "name": "a", "extra": "z"}
	got := Apply(p, row)
	want := schema.Row{"id": int64(1), "name": "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestIncludeNestedReconstructsParents(t *testing.T) {
	p, err := Parse([]any{"address.city"})
	if err != nil {
		t.Fatal(err)
	}
	row := schema.Row{"address": map[string]any{"city": "NYC", "zip": "10001"}}
	got := Apply(p, row)
	want := schema.Row{"address": map[string]any{"city": "NYC"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExcludeClonesWithoutMutatingOriginal(t *testing.T) {
	p, err := ParseOrdered([][2]any{{"address.zip", float64(0)}})
	if err != nil {
		t.Fatal(err)
	}
	orig := map[string]any{"city": "NYC", "zip": "10001"}
	row := schema.Row{"address": orig}
	got := Apply(p, row)

	addr := got["address"].(map[string]any)
	if _, present := addr["zip"]; present {
		t.Fatal("expected zip excluded")
	}
	if _, present := orig["zip"]; !present {
		t.Fatal("original map must not be mutated")
	}
}

func TestMinimalColumnsDedupes(t *testing.T) {
	p, err := Parse([]any{"a.x", "a.y", "b"})
	if err != nil {
		t.Fatal(err)
	}
	cols := MinimalColumns(p)
	want := []string{"a", "b"}
	if !reflect.DeepEqual(cols, want) {
		t.Fatalf("got %v want %v", cols, want)
	}
}

func TestMinimalColumnsExcludeModeIsNil(t *testing.T) {
	p, err := ParseOrdered([][2]any{{"secret", float64(0)}})
	if err != nil {
		t.Fatal(err)
	}
	if cols := MinimalColumns(p); cols != nil {
		t.Fatalf("expected nil for exclude mode, got %v", cols)
	}
}
