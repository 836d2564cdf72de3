package cdc

import (
	"context"
	"testing"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/storage"
)

func TestProducerMonotonicSeq(t *testing.T) {
	p := NewProducer()
	a := p.NextSeq()
	b := p.NextSeq()
	if b <= a {
		t.Fatalf("expected strictly increasing seq, got %d then %d", a, b)
	}
}

func TestWriteAndReadByVersion(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	codec := columnar.NewRefCodec()
	w := NewWriter(codec, backend)
	p := NewProducer()

	records := []Record{
		{ID: "1", Seq: p.NextSeq(), Op: OpCreate, ChangeType: ChangeInsert, After: schema.Row{"age": int64(30)}, Source: p.ID(), CommitVersion: 0},
	}
	if err := w.WriteCommit(ctx, "/tbl", 0, records); err != nil {
		t.Fatal(err)
	}

	preSeq := p.NextSeq()
	postSeq := p.NextSeq()
	updateRecords := []Record{
		{ID: "1", Seq: preSeq, Op: OpUpdate, ChangeType: ChangeUpdatePreimage, Before: schema.Row{"age": int64(30)}, Source: p.ID(), CommitVersion: 1},
		{ID: "1", Seq: postSeq, Op: OpUpdate, ChangeType: ChangeUpdatePostimage, After: schema.Row{"age": int64(31)}, Source: p.ID(), CommitVersion: 1},
	}
	if err := w.WriteCommit(ctx, "/tbl", 1, updateRecords); err != nil {
		t.Fatal(err)
	}

	r := NewReader(codec, backend)
	got, err := r.ReadByVersion(ctx, "/tbl", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ChangeType != ChangeUpdatePreimage || got[1].ChangeType != ChangeUpdatePostimage {
		t.Fatalf("expected preimage then postimage, got %v then %v", got[0].ChangeType, got[1].ChangeType)
	}
}

func TestWriteCommitEmptyFails(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	w := NewWriter(columnar.NewRefCodec(), backend)
	if err := w.WriteCommit(ctx, "/tbl", 0, nil); err == nil {
		t.Fatal("expected EMPTY_WRITE error")
	}
}

func TestReadByVersionInvalidRange(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	r := NewReader(columnar.NewRefCodec(), backend)
	if _, err := r.ReadByVersion(ctx, "/tbl", 5, 2); err == nil {
		t.Fatal("expected INVALID_VERSION_RANGE error")
	}
}

func TestReadByVersionSkipsCommitsWithoutCDCFile(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemBackend()
	r := NewReader(columnar.NewRefCodec(), backend)
	got, err := r.ReadByVersion(ctx, "/tbl", 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}
