package rowreflect

import (
	"testing"

	"github.com/deltaforge/deltalake/internal/schema"
)

type person struct {
	ID     int64  `delta:"id"`
	Name   string `delta:"name"`
	Hidden string `delta:"-"`
	Age    int64
}

func TestToRowUsesTagsAndSkipsHidden(t *testing.T) {
	p := person{ID: 1, Name: "ada", Hidden: "nope", Age: 30}
	row, err := ToRow(p)
	if err != nil {
		t.Fatal(err)
	}
	if row["id"].(int64) != 1 || row["name"].(string) != "ada" || row["Age"].(int64) != 30 {
		t.Fatalf("unexpected row: %v", row)
	}
	if _, ok := row["Hidden"]; ok {
		t.Fatal("expected Hidden field to be skipped")
	}
}

func TestToRowsFlattensSlice(t *testing.T) {
	people := []person{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	rows, err := ToRows(people)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1]["id"].(int64) != 2 {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestFromRowPopulatesStruct(t *testing.T) {
	row := schema.Row{"id": int64(9), "name": "grace", "Age": int64(40)}
	var p person
	if err := FromRow(row, &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != 9 || p.Name != "grace" || p.Age != 40 {
		t.Fatalf("unexpected struct: %+v", p)
	}
}

func TestFromRowCoercesNumericWidth(t *testing.T) {
	row := schema.Row{"id": int(9), "name": "grace", "Age": float64(40)}
	var p person
	if err := FromRow(row, &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != 9 || p.Age != 40 {
		t.Fatalf("unexpected struct: %+v", p)
	}
}

func TestFromRowIgnoresUnknownKeys(t *testing.T) {
	row := schema.Row{"id": int64(1), "name": "x", "extra": "ignored"}
	var p person
	if err := FromRow(row, &p); err != nil {
		t.Fatal(err)
	}
}

func TestToRowRejectsNonStruct(t *testing.T) {
	if _, err := ToRow(42); err == nil {
		t.Fatal("expected error for non-struct")
	}
}
