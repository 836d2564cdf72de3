// Package columnar wraps an external columnar-file codec (out of scope
// per spec §1: "an external library reads and writes the binary
// columnar format, we only describe the shapes we write and the
// statistics we require back") with a streaming writer that adds row
// grouping, schema inference, back-pressure, and zone maps (spec §4.2).
package columnar

import (
	"context"

	"github.com/deltaforge/deltalake/internal/schema"
)

// Compression enumerates the codecs spec §4.2 requires support for.
type Compression string

const (
	CompressionNone    Compression = "NONE"
	CompressionSnappy  Compression = "SNAPPY"
	CompressionLZ4     Compression = "LZ4"
	CompressionLZ4Raw  Compression = "LZ4_RAW"
	CompressionGzip    Compression = "GZIP"
	CompressionZstd    Compression = "ZSTD"
)

// ColumnStats is the per-column statistics contract a Codec must
// return for each row group (spec §4.2).
type ColumnStats struct {
	Min           any
	Max           any
	NullCount     int64
	DistinctCount *int64
}

// ZoneMapEntry covers one column of one row group (spec: "zone map").
type ZoneMapEntry struct {
	Column    string
	Min       any
	Max       any
	NullCount int64
}

// RowGroupInfo is returned by the Codec for each finalized row group:
// physical byte range, sizes, row count, and per-column stats.
type RowGroupInfo struct {
	Offset           int64
	Length           int64
	CompressedSize   int64
	UncompressedSize int64
	RowCount         int64
	Stats            map[string]ColumnStats
	ZoneMap          []ZoneMapEntry
}

// RowIterator yields decoded rows one at a time. Next returns
// (row, true, nil) per row, (zero, false, nil) at end of stream, or a
// non-nil error.
type RowIterator interface {
	Next() (schema.Row, bool, error)
	Close() error
}

// Codec is the external-library boundary described in spec §4.2. A
// real implementation would be backed by a Parquet-family library;
// this module ships only the reference in-memory codec in
// refcodec.go, used by this module's own tests.
type Codec interface {
	// EncodeRowGroup serializes rows into one physical row group and
	// returns its bytes plus the stats contract of spec §4.2.
	EncodeRowGroup(ctx context.Context, rows []schema.Row, sch schema.Schema, opts WriterOptions) ([]byte, map[string]ColumnStats, error)

	// Decode opens a finalized file's bytes for reading. wantColumns,
	// when non-empty, lets the codec skip materializing other columns.
	Decode(ctx context.Context, fileBytes []byte, wantColumns []string) (RowIterator, error)
}

// WriterOptions configures a Writer (spec §4.2 "Options").
type WriterOptions struct {
	TargetRowGroupRows  int
	TargetRowGroupBytes int64
	MaxBufferBytes      int64
	MaxPendingFlushes    int
	Compression         Compression
	EmitStats           bool
	EstimateDistinct    bool
	ShredVariantPaths   []string
	KVMetadata          map[string]string
}

// DefaultWriterOptions mirrors sensible defaults a real columnar
// library would ship.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		TargetRowGroupRows:  128 * 1024,
		TargetRowGroupBytes: 128 * 1024 * 1024,
		MaxBufferBytes:      256 * 1024 * 1024,
		MaxPendingFlushes:    4,
		Compression:          CompressionSnappy,
		EmitStats:            true,
		EstimateDistinct:     true,
	}
}
