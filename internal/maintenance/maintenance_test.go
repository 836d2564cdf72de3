package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/snapshot"
	"github.com/deltaforge/deltalake/internal/storage"
	"github.com/deltaforge/deltalake/internal/txlog"
)

func setupTableWithFiles(t *testing.T, ctx context.Context, d Deps, rowSets [][]schema.Row) *snapshot.Snapshot {
	t.Helper()
	var actions []txlog.Action
	actions = append(actions, txlog.Action{Metadata: &txlog.MetadataAction{ID: "t1", SchemaString: "{}", Format: "delta"}})
	for _, rows := range rowSets {
		add, err := writeDataFile(ctx, d, rows, nil)
		if err != nil {
			t.Fatal(err)
		}
		actions = append(actions, txlog.Action{Add: add})
	}
	res, err := txlog.CommitAt(ctx, d.Backend, d.TablePath, -1, actions)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, res.Version)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestCompactMergesBinsAndCommits(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{
		{{"id": int64(1)}},
		{{"id": int64(2)}},
	})

	plan, res, err := Compact(ctx, d, snap, CompactOptions{TargetBytes: 1 << 30, Strategy: StrategyBinPacking})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Bins) != 1 {
		t.Fatalf("expected 1 bin (both files fit target), got %d", len(plan.Bins))
	}
	if res == nil {
		t.Fatal("expected a commit result")
	}

	newSnap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, res.Version)
	if err != nil {
		t.Fatal(err)
	}
	if len(newSnap.Files) != 1 {
		t.Fatalf("expected 1 live file after compaction, got %d", len(newSnap.Files))
	}
}

func TestCompactDryRunDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{
		{{"id": int64(1)}},
		{{"id": int64(2)}},
	})
	plan, res, err := Compact(ctx, d, snap, CompactOptions{TargetBytes: 1 << 30, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatal("expected no commit for dry run")
	}
	if len(plan.Bins) == 0 {
		t.Fatal("expected a non-empty plan")
	}
}

func TestDedupExactDuplicate(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{
		{{"id": int64(1)}, {"id": int64(1)}},
	})
	res, err := Dedup(ctx, d, snap, DedupOptions{Mode: DedupExactDuplicate})
	if err != nil {
		t.Fatal(err)
	}
	newSnap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, res.Version)
	if err != nil {
		t.Fatal(err)
	}
	var total int
	for p := range newSnap.Files {
		rows, err := readFileRows(ctx, d, p)
		if err != nil {
			t.Fatal(err)
		}
		total += len(rows)
	}
	if total != 1 {
		t.Fatalf("expected 1 surviving row, got %d", total)
	}
}

func TestDedupPrimaryKeyLatestWins(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{
		{{"id": int64(1), "v": int64(10), "ver": int64(1)}, {"id": int64(1), "v": int64(20), "ver": int64(2)}},
	})
	res, err := Dedup(ctx, d, snap, DedupOptions{Mode: DedupPrimaryKey, Key: []string{"id"}, KeepStrategy: KeepLatest, OrderByColumn: "ver"})
	if err != nil {
		t.Fatal(err)
	}
	newSnap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, res.Version)
	if err != nil {
		t.Fatal(err)
	}
	for p := range newSnap.Files {
		rows, err := readFileRows(ctx, d, p)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || rows[0]["v"].(int64) != 20 {
			t.Fatalf("expected the v=20 survivor, got %v", rows)
		}
	}
}

func TestZOrderProducesContiguousChunks(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	rows := []schema.Row{{"x": int64(5)}, {"x": int64(1)}, {"x": int64(3)}}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{rows})

	stats, res, err := ZOrder(ctx, d, snap, ZOrderOptions{Columns: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	if stats.RowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", stats.RowCount)
	}
	if res == nil {
		t.Fatal("expected a commit")
	}
	newSnap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, res.Version)
	if err != nil {
		t.Fatal(err)
	}
	for p := range newSnap.Files {
		got, err := readFileRows(ctx, d, p)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1]["x"].(int64) > got[i]["x"].(int64) {
				t.Fatalf("expected rows ordered by x within a chunk, got %v", got)
			}
		}
	}
}

func TestVacuumDeletesOnlyRemovedBeforeHorizon(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{
		{{"id": int64(1)}},
		{{"id": int64(2)}},
	})
	var removedPath string
	for p := range snap.Files {
		removedPath = p
		break
	}
	res, err := txlog.CommitAt(ctx, d.Backend, d.TablePath, snap.Version, []txlog.Action{
		{Remove: &txlog.RemoveFile{Path: removedPath, DeletionTimestamp: time.Now().Add(-48 * time.Hour).UnixMilli()}},
	})
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := Vacuum(ctx, d, res.Version, VacuumOptions{RetentionDuration: 24 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != removedPath {
		t.Fatalf("expected to vacuum %q, got %v", removedPath, deleted)
	}
	if exists, _ := d.Backend.Exists(ctx, removedPath); exists {
		t.Fatal("expected removed file to be physically deleted")
	}
}

func TestVacuumSkipsWithinRetentionWindow(t *testing.T) {
	ctx := context.Background()
	d := Deps{Backend: storage.NewMemBackend(), Codec: columnar.NewRefCodec(), TablePath: "/tbl"}
	snap := setupTableWithFiles(t, ctx, d, [][]schema.Row{{{"id": int64(1)}}})
	var removedPath string
	for p := range snap.Files {
		removedPath = p
	}
	res, err := txlog.CommitAt(ctx, d.Backend, d.TablePath, snap.Version, []txlog.Action{
		{Remove: &txlog.RemoveFile{Path: removedPath, DeletionTimestamp: time.Now().UnixMilli()}},
	})
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := Vacuum(ctx, d, res.Version, VacuumOptions{RetentionDuration: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 0 {
		t.Fatalf("expected no deletions within retention window, got %v", deleted)
	}
}
