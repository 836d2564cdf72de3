package zonemap

import (
	"testing"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/filter"
)

func TestCanSkipOutOfRangeEquality(t *testing.T) {
	f, err := filter.Parse(map[string]any{"v": float64(100)})
	if err != nil {
		t.Fatal(err)
	}
	entries := []columnar.ZoneMapEntry{{Column: "v", Min: int64(0), Max: int64(10)}}
	if !CanSkip(f, entries) {
		t.Fatal("expected skip: 100 is outside [0,10]")
	}
}

func TestCanSkipKeepsOverlapping(t *testing.T) {
	f, err := filter.Parse(map[string]any{"v": float64(5)})
	if err != nil {
		t.Fatal(err)
	}
	entries := []columnar.ZoneMapEntry{{Column: "v", Min: int64(0), Max: int64(10)}}
	if CanSkip(f, entries) {
		t.Fatal("expected keep: 5 is inside [0,10]")
	}
}

func TestCanSkipMissingColumnIsConservative(t *testing.T) {
	f, err := filter.Parse(map[string]any{"unmapped": float64(5)})
	if err != nil {
		t.Fatal(err)
	}
	if CanSkip(f, nil) {
		t.Fatal("expected no skip when zone map lacks the column")
	}
}

func TestCanSkipGreaterThan(t *testing.T) {
	f, err := filter.Parse(map[string]any{"v": map[string]any{"$gt": float64(20)}})
	if err != nil {
		t.Fatal(err)
	}
	entries := []columnar.ZoneMapEntry{{Column: "v", Min: int64(0), Max: int64(10)}}
	if !CanSkip(f, entries) {
		t.Fatal("expected skip: max(10) <= 20")
	}
}

func TestCanSkipAndOr(t *testing.T) {
	f, err := filter.Parse(map[string]any{"$and": []any{
		map[string]any{"v": float64(100)},
		map[string]any{"w": float64(1)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	entries := []columnar.ZoneMapEntry{{Column: "v", Min: int64(0), Max: int64(10)}}
	if !CanSkip(f, entries) {
		t.Fatal("expected skip: one AND branch provably excludes all rows")
	}
}
