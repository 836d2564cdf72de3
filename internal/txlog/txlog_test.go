package txlog

import (
	"context"
	"testing"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/storage"
)

func TestActionRoundTripJSONLines(t *testing.T) {
	actions := []Action{
		{Metadata: &MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}},
		{Add: &AddFile{Path: "part-1.parquet", Size: 10, DataChange: true}},
		{CommitInfo: &CommitInfoAction{Timestamp: 1, Operation: "WRITE"}},
	}
	data, err := MarshalActions(actions)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalActions(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(got))
	}
	if got[1].Add.Path != "part-1.parquet" {
		t.Fatalf("unexpected add path %q", got[1].Add.Path)
	}
}

func TestCommitPathPadding(t *testing.T) {
	p := CommitPath("/tbl", 42)
	want := "/tbl/_delta_log/00000000000000000042.json"
	if p != want {
		t.Fatalf("got %q want %q", p, want)
	}
}

func TestParseCommitVersion(t *testing.T) {
	v, ok := ParseCommitVersion("00000000000000000007.json")
	if !ok || v != 7 {
		t.Fatalf("got %d,%v want 7,true", v, ok)
	}
	if _, ok := ParseCommitVersion("_last_checkpoint"); ok {
		t.Fatal("expected false for non-commit name")
	}
}

func TestCommitAtSequentialVersions(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	res, err := CommitAt(ctx, backend, "/tbl", -1, []Action{{Metadata: &MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != 0 {
		t.Fatalf("expected version 0, got %d", res.Version)
	}
	res2, err := CommitAt(ctx, backend, "/tbl", 0, []Action{{Add: &AddFile{Path: "p1", DataChange: true}}})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Version != 1 {
		t.Fatalf("expected version 1, got %d", res2.Version)
	}

	latest, err := LatestVersion(ctx, backend, "/tbl")
	if err != nil {
		t.Fatal(err)
	}
	if latest != 1 {
		t.Fatalf("expected latest 1, got %d", latest)
	}
}

func TestCommitAtConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	if _, err := CommitAt(ctx, backend, "/tbl", -1, []Action{{Metadata: &MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}}}); err != nil {
		t.Fatal(err)
	}
	// Two writers both think readVersion=0.
	if _, err := CommitAt(ctx, backend, "/tbl", 0, []Action{{Add: &AddFile{Path: "a"}}}); err != nil {
		t.Fatal(err)
	}
	_, err := CommitAt(ctx, backend, "/tbl", 0, []Action{{Add: &AddFile{Path: "b"}}})
	if err == nil {
		t.Fatal("expected a concurrency error")
	}
	ce, ok := deltaerr.IsConcurrencyError(err)
	if !ok {
		t.Fatalf("expected ConcurrencyError, got %v", err)
	}
	if ce.ExpectedVersion != 0 || ce.ActualVersion != 1 {
		t.Fatalf("unexpected versions: expected=%d actual=%d", ce.ExpectedVersion, ce.ActualVersion)
	}
}

func TestCheckpointWriteAndRead(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()
	actions := []Action{
		{Metadata: &MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}},
		{Protocol: &ProtocolAction{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Add: &AddFile{Path: "p1", DataChange: true}},
		{Add: &AddFile{Path: "p2", DataChange: true}},
	}
	if err := WriteCheckpoint(ctx, backend, codec, "/tbl", 3, actions, CheckpointOptions{}); err != nil {
		t.Fatal(err)
	}

	lc, err := ReadLastCheckpoint(ctx, backend, "/tbl")
	if err != nil {
		t.Fatal(err)
	}
	if lc == nil || lc.Version != 3 {
		t.Fatalf("expected last checkpoint at version 3, got %+v", lc)
	}

	got, err := ReadCheckpoint(ctx, backend, codec, "/tbl", *lc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 actions back, got %d", len(got))
	}
}

func TestReadLastCheckpointAbsentIsNil(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	lc, err := ReadLastCheckpoint(ctx, backend, "/tbl")
	if err != nil {
		t.Fatal(err)
	}
	if lc != nil {
		t.Fatal("expected nil when absent")
	}
}
