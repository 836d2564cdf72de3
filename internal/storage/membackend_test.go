package storage

import (
	"context"
	"testing"

	"github.com/deltaforge/deltalake/internal/deltaerr"
)

func TestMemBackendConditionalWriteCreateIffAbsent(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()

	v, err := b.WriteConditional(ctx, "a", []byte("1"), "")
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if v == "" {
		t.Fatal("expected non-empty version")
	}

	_, err = b.WriteConditional(ctx, "a", []byte("2"), "")
	if !deltaerr.IsVersionMismatch(err) {
		t.Fatalf("expected VersionMismatch, got %v", err)
	}

	if _, err := b.WriteConditional(ctx, "a", []byte("2"), v); err != nil {
		t.Fatalf("expected success writing with correct version: %v", err)
	}
}

func TestMemBackendReadNotFound(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	if _, err := b.Read(ctx, "missing"); !deltaerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMemBackendDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	if err := b.Delete(ctx, "nope"); err != nil {
		t.Fatalf("delete of missing key should not error: %v", err)
	}
}

func TestMemBackendListAndSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	_, _ = b.WriteConditional(ctx, "_delta_log/0.json", []byte("a"), "")
	_, _ = b.WriteConditional(ctx, "_delta_log/1.json", []byte("b"), "")

	keys, err := b.List(ctx, "_delta_log/")
	if err != nil || len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v err=%v", keys, err)
	}

	snap := b.Snapshot()
	_ = b.Write(ctx, "_delta_log/2.json", []byte("c"))
	keys, _ = b.List(ctx, "_delta_log/")
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys after write, got %d", len(keys))
	}

	b.Restore(snap)
	keys, _ = b.List(ctx, "_delta_log/")
	if len(keys) != 2 {
		t.Fatalf("expected restore to roll back to 2 keys, got %d", len(keys))
	}
}

func TestMemBackendReadRangeExclusiveEnd(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	_ = b.Write(ctx, "f", []byte("0123456789"))
	got, err := b.ReadRange(ctx, "f", 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "234" {
		t.Fatalf("expected %q, got %q", "234", got)
	}
}

func TestMemBackendMaxObjectBytes(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend().WithMaxObjectBytes(4)
	if err := b.Write(ctx, "x", []byte("12345")); err == nil {
		t.Fatal("expected failure writing object exceeding max size")
	}
}
