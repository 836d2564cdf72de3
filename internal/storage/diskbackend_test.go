package storage

import (
	"context"
	"testing"

	"github.com/deltaforge/deltalake/internal/deltaerr"
)

func TestDiskBackendConditionalWriteCreateIffAbsent(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBackend(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

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

func TestDiskBackendReadNotFound(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBackend(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := b.Read(ctx, "missing"); !deltaerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDiskBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, err := NewDiskBackend(dir, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, err := b1.WriteConditional(ctx, "_delta_log/0.json", []byte("hello"), "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	b2, err := NewDiskBackend(dir, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	data, err := b2.Read(ctx, "_delta_log/0.json")
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", data)
	}
	got, err := b2.GetVersion(ctx, "_delta_log/0.json")
	if err != nil || got != v {
		t.Fatalf("expected version %q to survive reopen, got %q err=%v", v, got, err)
	}
}

func TestDiskBackendGzipRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBackend(t.TempDir(), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.Write(ctx, "data/part-0.bin", []byte("compressed payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := b.Read(ctx, "data/part-0.bin")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "compressed payload" {
		t.Fatalf("expected round-tripped payload, got %q", got)
	}
}

func TestDiskBackendListByPrefix(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBackend(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = b.Write(ctx, "_delta_log/0.json", []byte("a"))
	_ = b.Write(ctx, "_delta_log/1.json", []byte("b"))
	_ = b.Write(ctx, "data/part-0.bin", []byte("c"))

	keys, err := b.List(ctx, "_delta_log/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under _delta_log/, got %v", keys)
	}
}

func TestDiskBackendDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBackend(t.TempDir(), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.Delete(ctx, "nope"); err != nil {
		t.Fatalf("delete of missing key should not error: %v", err)
	}
}
