package testutil

import "testing"

func TestLoadFixtureRows(t *testing.T) {
	raw := []byte(`
rows:
  - _id: "1"
    name: alice
    age: 30
  - _id: "2"
    name: bob
    age: 40
`)
	f, err := LoadFixture(raw)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rows := f.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "alice" {
		t.Fatalf("expected alice, got %v", rows[0]["name"])
	}
}

func TestSeqRows(t *testing.T) {
	rows := SeqRows(5)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[4]["v"] != 4 {
		t.Fatalf("expected last row v=4, got %v", rows[4]["v"])
	}
}
