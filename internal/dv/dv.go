// Package dv implements deletion vectors (spec §3, §4.8): compressed
// bitmaps of logically-deleted row indices within a data file, backed
// by github.com/RoaringBitmap/roaring/v2 the way a real Delta
// implementation backs them with RoaringBitmap-family encodings.
package dv

import (
	"bytes"
	"encoding/ascii85"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// StorageKind is the Descriptor's `storage` discriminator (spec §3).
type StorageKind byte

const (
	StorageUUIDRelative StorageKind = 'u'
	StorageAbsolutePath StorageKind = 'p'
	StorageInline       StorageKind = 'i'
)

// Descriptor mirrors spec §3's Deletion Vector Descriptor shape.
type Descriptor struct {
	Storage        StorageKind
	PathOrInlineDV string
	Offset         *int64
	SizeInBytes    int64
	Cardinality    int64
}

// Bitmap wraps roaring.Bitmap with the encode/decode forms the engine
// needs: raw bytes (for external DV files) and base85 text (for
// inline descriptors).
type Bitmap struct {
	bm *roaring.Bitmap
}

// New returns an empty Bitmap.
func New() *Bitmap { return &Bitmap{bm: roaring.New()} }

// FromIndices builds a Bitmap containing exactly the given row indices.
func FromIndices(indices ...uint32) *Bitmap {
	b := New()
	for _, i := range indices {
		b.bm.Add(i)
	}
	return b
}

// Add marks row index i as logically deleted.
func (b *Bitmap) Add(i uint32) { b.bm.Add(i) }

// Contains reports whether row index i is logically deleted.
func (b *Bitmap) Contains(i uint32) bool { return b.bm.Contains(i) }

// Cardinality is the population count of the encoded bitmap (spec
// invariant 6: "cardinality equals the population count").
func (b *Bitmap) Cardinality() int64 { return int64(b.bm.GetCardinality()) }

// Merge unions other into b, used when an update rewrites a file's DV
// to cover additional rows (spec §4.8).
func (b *Bitmap) Merge(other *Bitmap) { b.bm.Or(other.bm) }

// ToBytes serializes the bitmap to roaring's compact binary form, used
// for external ('u'/'p') DV files.
func (b *Bitmap) ToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.bm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("dv: serialize bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// FromBytes parses roaring's compact binary form.
func FromBytes(data []byte) (*Bitmap, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("dv: parse bitmap: %w", err)
	}
	return &Bitmap{bm: bm}, nil
}

// ToBase85 encodes the bitmap for an inline ('i') descriptor.
func (b *Bitmap) ToBase85() (string, error) {
	raw, err := b.ToBytes()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	if _, err := enc.Write(raw); err != nil {
		return "", fmt.Errorf("dv: base85 encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FromBase85 decodes an inline descriptor's payload.
func FromBase85(s string) (*Bitmap, error) {
	dec := ascii85.NewDecoder(bytes.NewReader([]byte(s)))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(dec); err != nil {
		return nil, fmt.Errorf("dv: base85 decode: %w", err)
	}
	return FromBytes(buf.Bytes())
}

// ToDescriptor builds an inline Descriptor for b, the simplest storage
// kind and the one this module emits by default.
func (b *Bitmap) ToDescriptor() (Descriptor, error) {
	s, err := b.ToBase85()
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Storage:        StorageInline,
		PathOrInlineDV: s,
		SizeInBytes:    int64(len(s)),
		Cardinality:    b.Cardinality(),
	}, nil
}

// Resolve loads the Bitmap a Descriptor points to. For external
// storage kinds ('u'/'p'), readExternal resolves pathOrInlineDv (an
// UUID-relative or absolute path) to bytes via the caller's storage
// backend; it is supplied by callers so this package stays independent
// of the storage package's specific path-joining conventions.
func Resolve(d Descriptor, readExternal func(pathOrInlineDV string, offset *int64, size int64) ([]byte, error)) (*Bitmap, error) {
	switch d.Storage {
	case StorageInline:
		return FromBase85(d.PathOrInlineDV)
	case StorageUUIDRelative, StorageAbsolutePath:
		if readExternal == nil {
			return nil, fmt.Errorf("dv: external DV storage kind %q requires a readExternal callback", d.Storage)
		}
		data, err := readExternal(d.PathOrInlineDV, d.Offset, d.SizeInBytes)
		if err != nil {
			return nil, err
		}
		return FromBytes(data)
	default:
		return nil, fmt.Errorf("dv: unknown storage kind %q", d.Storage)
	}
}

// FullyDeleted reports whether the DV's cardinality is at least
// rowCount, meaning the file is functionally removed (spec §4.8).
func FullyDeleted(d Descriptor, rowCount int64) bool {
	return d.Cardinality >= rowCount
}

// ApplyFilter returns the subset of row indices in [0,rowCount) that
// are NOT marked deleted by b, in ascending order.
func (b *Bitmap) ApplyFilter(rowCount int64) []int64 {
	out := make([]int64, 0, rowCount)
	for i := int64(0); i < rowCount; i++ {
		if !b.bm.Contains(uint32(i)) {
			out = append(out, i)
		}
	}
	return out
}
