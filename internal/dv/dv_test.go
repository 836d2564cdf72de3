package dv

import "testing"

func TestBitmapBasics(t *testing.T) {
	b := FromIndices(1, 3, 5)
	if !b.Contains(3) || b.Contains(2) {
		t.Fatal("unexpected membership")
	}
	if b.Cardinality() != 3 {
		t.Fatalf("expected cardinality 3, got %d", b.Cardinality())
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b := FromIndices(0, 10, 100)
	data, err := b.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cardinality() != 3 || !got.Contains(100) {
		t.Fatal("round trip mismatch")
	}
}

func TestBase85RoundTrip(t *testing.T) {
	b := FromIndices(2, 4, 6, 8)
	s, err := b.ToBase85()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBase85(s)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cardinality() != 4 || !got.Contains(6) {
		t.Fatal("round trip mismatch")
	}
}

func TestToDescriptorIsInline(t *testing.T) {
	b := FromIndices(1)
	d, err := b.ToDescriptor()
	if err != nil {
		t.Fatal(err)
	}
	if d.Storage != StorageInline {
		t.Fatalf("expected inline storage, got %q", d.Storage)
	}
	if d.Cardinality != 1 {
		t.Fatalf("expected cardinality 1, got %d", d.Cardinality)
	}
}

func TestMergeUnion(t *testing.T) {
	a := FromIndices(1, 2)
	b := FromIndices(2, 3)
	a.Merge(b)
	if a.Cardinality() != 3 {
		t.Fatalf("expected union cardinality 3, got %d", a.Cardinality())
	}
}

func TestFullyDeleted(t *testing.T) {
	d := Descriptor{Cardinality: 5}
	if !FullyDeleted(d, 5) {
		t.Fatal("expected fully deleted when cardinality == rowCount")
	}
	if FullyDeleted(d, 6) {
		t.Fatal("expected not fully deleted when rowCount exceeds cardinality")
	}
}

func TestApplyFilterExcludesDeleted(t *testing.T) {
	b := FromIndices(1, 3)
	kept := b.ApplyFilter(5)
	want := []int64{0, 2, 4}
	if len(kept) != len(want) {
		t.Fatalf("got %v want %v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Fatalf("got %v want %v", kept, want)
		}
	}
}

func TestResolveInlineDoesNotNeedCallback(t *testing.T) {
	b := FromIndices(9)
	d, err := b.ToDescriptor()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Resolve(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Contains(9) {
		t.Fatal("expected resolved bitmap to contain 9")
	}
}
