package columnmap

import (
	"testing"

	"github.com/deltaforge/deltalake/internal/schema"
)

func TestIdentityWhenModeNone(t *testing.T) {
	sch := schema.Schema{Fields: []schema.Field{{Name: "a"}}}
	m, err := Build(ModeNone, sch)
	if err != nil {
		t.Fatal(err)
	}
	if m.ToPhysical("a") != "a" || m.ToLogical("a") != "a" {
		t.Fatal("expected identity mapping")
	}
}

func TestNameModeUsesPhysicalName(t *testing.T) {
	sch := schema.Schema{Fields: []schema.Field{{Name: "user_id", PhysicalName: "col_0"}}}
	m, err := Build(ModeName, sch)
	if err != nil {
		t.Fatal(err)
	}
	if m.ToPhysical("user_id") != "col_0" {
		t.Fatalf("expected col_0, got %s", m.ToPhysical("user_id"))
	}
	if m.ToLogical("col_0") != "user_id" {
		t.Fatalf("expected user_id, got %s", m.ToLogical("col_0"))
	}
}

func TestRowTranslationRoundTrip(t *testing.T) {
	sch := schema.Schema{Fields: []schema.Field{{Name: "user_id", PhysicalName: "col_0"}}}
	m, err := Build(ModeName, sch)
	if err != nil {
		t.Fatal(err)
	}
	row := schema.Row{"user_id": int64(5)}
	phys := m.RowToPhysical(row)
	if _, ok := phys["col_0"]; !ok {
		t.Fatal("expected physical key col_0")
	}
	logical := m.RowToLogical(phys)
	if logical["user_id"].(int64) != 5 {
		t.Fatal("expected round trip to recover logical key")
	}
}

func TestIDModeDerivesFromFieldID(t *testing.T) {
	sch := schema.Schema{Fields: []schema.Field{{Name: "a", FieldID: 7}}}
	m, err := Build(ModeID, sch)
	if err != nil {
		t.Fatal(err)
	}
	if m.ToPhysical("a") != "col-7" {
		t.Fatalf("expected col-7, got %s", m.ToPhysical("a"))
	}
}
