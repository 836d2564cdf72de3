package aggregate

import (
	"testing"

	"github.com/deltaforge/deltalake/internal/filter"
	"github.com/deltaforge/deltalake/internal/schema"
)

func sampleRows() []schema.Row {
	return []schema.Row{
		{"region": "east", "amount": float64(10)},
		{"region": "east", "amount": float64(20)},
		{"region": "west", "amount": float64(5)},
	}
}

func TestMatchStage(t *testing.T) {
	f, err := filter.Parse(map[string]any{"region": "east"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(sampleRows(), []Stage{{Kind: StageMatch, Match: f}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 east rows, got %d", len(res.Documents))
	}
}

func TestGroupSumAndCount(t *testing.T) {
	stages := []Stage{{
		Kind:     StageGroup,
		GroupKey: map[string]string{"_id": "$region"},
		Accums: map[string]GroupAccum{
			"total": {Op: AccSum, Field: "$amount"},
			"n":     {Op: AccCount},
		},
	}}
	res, err := Run(sampleRows(), stages)
	if err != nil {
		t.Fatal(err)
	}
	if res.GroupsCreated == nil || *res.GroupsCreated != 2 {
		t.Fatalf("expected 2 groups, got %v", res.GroupsCreated)
	}
	byRegion := map[any]schema.Row{}
	for _, r := range res.Documents {
		byRegion[r["_id"]] = r
	}
	if byRegion["east"]["total"].(float64) != 30 {
		t.Fatalf("expected east total 30, got %v", byRegion["east"]["total"])
	}
	if byRegion["east"]["n"].(int64) != 2 {
		t.Fatalf("expected east count 2, got %v", byRegion["east"]["n"])
	}
}

func TestSortAscendingNullsFirst(t *testing.T) {
	rows := []schema.Row{
		{"a": float64(2)},
		{"a": nil},
		{"a": float64(1)},
	}
	res, err := Run(rows, []Stage{{Kind: StageSort, SortKeys: []SortKey{{Field: "a"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents[0]["a"] != nil {
		t.Fatalf("expected null first, got %v", res.Documents[0]["a"])
	}
	if res.Documents[1]["a"].(float64) != 1 {
		t.Fatalf("expected 1 second, got %v", res.Documents[1]["a"])
	}
}

func TestLimitAndSkip(t *testing.T) {
	res, err := Run(sampleRows(), []Stage{{Kind: StageSkip, N: 1}, {Kind: StageLimit, N: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Documents))
	}
}

func TestUnwindFlattensArray(t *testing.T) {
	rows := []schema.Row{{"tags": []any{"a", "b"}}}
	res, err := Run(rows, []Stage{{Kind: StageUnwind, UnwindField: "tags"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 rows after unwind, got %d", len(res.Documents))
	}
}

func TestUnwindPreserveNullAndEmptyArrays(t *testing.T) {
	rows := []schema.Row{{"tags": []any{}}, {}}
	res, err := Run(rows, []Stage{{Kind: StageUnwind, UnwindField: "tags", PreserveNullAndEmptyArrays: true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 preserved rows, got %d", len(res.Documents))
	}
}

func TestUnwindDropsEmptyWithoutPreserve(t *testing.T) {
	rows := []schema.Row{{"tags": []any{}}}
	res, err := Run(rows, []Stage{{Kind: StageUnwind, UnwindField: "tags"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(res.Documents))
	}
}
