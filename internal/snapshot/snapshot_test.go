package snapshot

import (
	"context"
	"testing"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/storage"
	"github.com/deltaforge/deltalake/internal/txlog"
)

func commit(t *testing.T, ctx context.Context, backend storage.Backend, tablePath string, readVersion int64, actions []txlog.Action) int64 {
	t.Helper()
	res, err := txlog.CommitAt(ctx, backend, tablePath, readVersion, actions)
	if err != nil {
		t.Fatal(err)
	}
	return res.Version
}

func TestBuildReplaysLogFromZero(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()

	v0 := commit(t, ctx, backend, "/tbl", -1, []txlog.Action{
		{Metadata: &txlog.MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}},
		{Protocol: &txlog.ProtocolAction{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Add: &txlog.AddFile{Path: "p1", DataChange: true}},
	})
	v1 := commit(t, ctx, backend, "/tbl", v0, []txlog.Action{
		{Add: &txlog.AddFile{Path: "p2", DataChange: true}},
	})
	v2 := commit(t, ctx, backend, "/tbl", v1, []txlog.Action{
		{Remove: &txlog.RemoveFile{Path: "p1", DeletionTimestamp: 1}},
	})

	snap, err := Build(ctx, backend, codec, "/tbl", v2)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("expected 1 live file, got %d", len(snap.Files))
	}
	if _, ok := snap.Files["p2"]; !ok {
		t.Fatal("expected p2 to survive")
	}
	if snap.Metadata == nil || snap.Metadata.ID != "t1" {
		t.Fatal("expected metadata to be carried forward")
	}
}

func TestBuildAtEarlierVersionExcludesLaterCommits(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()

	v0 := commit(t, ctx, backend, "/tbl", -1, []txlog.Action{
		{Metadata: &txlog.MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}},
		{Add: &txlog.AddFile{Path: "p1", DataChange: true}},
	})
	commit(t, ctx, backend, "/tbl", v0, []txlog.Action{
		{Add: &txlog.AddFile{Path: "p2", DataChange: true}},
	})

	snap, err := Build(ctx, backend, codec, "/tbl", v0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("expected only version-0 files, got %d", len(snap.Files))
	}
}

func TestBuildUsesCheckpointBaseline(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()

	v0 := commit(t, ctx, backend, "/tbl", -1, []txlog.Action{
		{Metadata: &txlog.MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}},
		{Add: &txlog.AddFile{Path: "p1", DataChange: true}},
	})
	snapBefore, err := Build(ctx, backend, codec, "/tbl", v0)
	if err != nil {
		t.Fatal(err)
	}
	var actions []txlog.Action
	if snapBefore.Metadata != nil {
		actions = append(actions, txlog.Action{Metadata: snapBefore.Metadata})
	}
	for _, p := range snapBefore.SortedPaths() {
		actions = append(actions, txlog.Action{Add: snapBefore.Files[p]})
	}
	if err := txlog.WriteCheckpoint(ctx, backend, codec, "/tbl", v0, actions, txlog.CheckpointOptions{}); err != nil {
		t.Fatal(err)
	}

	v1 := commit(t, ctx, backend, "/tbl", v0, []txlog.Action{
		{Add: &txlog.AddFile{Path: "p2", DataChange: true}},
	})

	snap, err := Build(ctx, backend, codec, "/tbl", v1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Files) != 2 {
		t.Fatalf("expected 2 files (checkpoint baseline + replay), got %d", len(snap.Files))
	}
}

func TestBuildEmptyTable(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()
	snap, err := Build(ctx, backend, codec, "/tbl", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Files) != 0 {
		t.Fatal("expected no files")
	}
}
