package columnar

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/deltaforge/deltalake/internal/schema"
)

// FinalizedFile is everything Writer.Finalize hands back: the
// assembled file bytes, every row group's metadata, and the combined
// zone map spec §4.2 requires ("a per-row-group zone map").
type FinalizedFile struct {
	Bytes     []byte
	RowGroups []RowGroupInfo
	ZoneMap   [][]ZoneMapEntry // one slice of entries per row group, same order as RowGroups
}

// Writer streams rows into a Codec in row-group batches, with
// back-pressure, schema inference, and abort/rollback (spec §4.2).
type Writer struct {
	codec  Codec
	opts   WriterOptions
	schema *schema.Schema // nil until the first row is seen, unless supplied explicitly

	mu          sync.Mutex
	batch       []schema.Row
	batchBytes  int64
	aborted     bool
	flushErr    error
	rowGroups   []RowGroupInfo
	zoneMaps    [][]ZoneMapEntry
	assembled   *bytebufferpool.ByteBuffer
	pending     chan struct{} // back-pressure semaphore
	flushWG     sync.WaitGroup
	flushMu     sync.Mutex // serializes flush ordering into rowGroups/assembled
}

// NewWriter constructs a Writer. If explicitSchema is nil, the schema
// is inferred from the first row per spec §4.2.
func NewWriter(codec Codec, opts WriterOptions, explicitSchema *schema.Schema) *Writer {
	if opts.MaxPendingFlushes <= 0 {
		opts.MaxPendingFlushes = 1
	}
	return &Writer{
		codec:     codec,
		opts:      opts,
		schema:    explicitSchema,
		assembled: bytebufferpool.Get(),
		pending:   make(chan struct{}, opts.MaxPendingFlushes),
	}
}

// Schema returns the (possibly still nil) current schema.
func (w *Writer) Schema() *schema.Schema {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.schema
}

func estimateRowBytes(r schema.Row) int64 {
	n := int64(0)
	for k, v := range r {
		n += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			n += int64(len(s))
		}
		if b, ok := v.([]byte); ok {
			n += int64(len(b))
		}
	}
	return n
}

// WriteRow appends one row, inferring or validating schema, and
// triggers a flush when the configured row-count or byte thresholds
// are hit. When MaxPendingFlushes concurrent flushes are already in
// flight, WriteRow cooperatively suspends until a slot frees (spec §5).
func (w *Writer) WriteRow(ctx context.Context, row schema.Row) error {
	w.mu.Lock()
	if w.aborted {
		w.mu.Unlock()
		return fmt.Errorf("columnar: writer aborted")
	}
	if w.schema == nil {
		inferred := schema.Infer(row)
		w.schema = &inferred
	} else if err := schema.Reconcile(w.schema, row); err != nil {
		w.mu.Unlock()
		return err
	}
	w.batch = append(w.batch, row.Clone())
	w.batchBytes += estimateRowBytes(row)
	shouldFlush := (w.opts.TargetRowGroupRows > 0 && len(w.batch) >= w.opts.TargetRowGroupRows) ||
		(w.opts.TargetRowGroupBytes > 0 && w.batchBytes >= w.opts.TargetRowGroupBytes)
	var toFlush []schema.Row
	if shouldFlush {
		toFlush = w.batch
		w.batch = nil
		w.batchBytes = 0
	}
	w.mu.Unlock()

	if toFlush == nil {
		return nil
	}
	return w.flush(ctx, toFlush)
}

// flush acquires a back-pressure slot (suspending if all are busy),
// then encodes the batch and appends it to the assembled file,
// preserving row-group order via flushMu even though encoding itself
// could, in a future concurrent implementation, happen off the slot.
func (w *Writer) flush(ctx context.Context, rows []schema.Row) error {
	select {
	case w.pending <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.pending }()

	sch := *w.schema
	data, stats, err := w.codec.EncodeRowGroup(ctx, rows, sch, w.opts)
	if err != nil {
		w.mu.Lock()
		w.flushErr = err
		w.mu.Unlock()
		return err
	}

	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	offset := int64(w.assembled.Len())
	w.assembled.Write(data)
	info := RowGroupInfo{
		Offset:           offset,
		Length:           int64(len(data)),
		CompressedSize:   int64(len(data)),
		UncompressedSize: int64(len(data)),
		RowCount:         int64(len(rows)),
		Stats:            stats,
	}
	zm := zoneMapFromStats(stats, w.opts.ShredVariantPaths)
	w.rowGroups = append(w.rowGroups, info)
	w.zoneMaps = append(w.zoneMaps, zm)
	return nil
}

func zoneMapFromStats(stats map[string]ColumnStats, shredPaths []string) []ZoneMapEntry {
	out := make([]ZoneMapEntry, 0, len(stats))
	for col, cs := range stats {
		out = append(out, ZoneMapEntry{Column: col, Min: cs.Min, Max: cs.Max, NullCount: cs.NullCount})
	}
	for _, p := range shredPaths {
		// Shredded variant sub-paths get their own zone map entry keyed
		// by "column.sub.path"; stats for these require the codec to
		// have inspected the variant tree, which RefCodec does not do,
		// so we conservatively emit an entry with no bounds (always kept
		// by pruning, per spec "a predicate on a column absent from
		// zone maps is conservatively kept").
		if !strings.Contains(p, ".") {
			continue
		}
		out = append(out, ZoneMapEntry{Column: p})
	}
	return out
}

// Abort rolls back in-memory row accumulation and releases writer
// resources. Terminal: the Writer must not be used afterward.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = true
	w.batch = nil
	w.batchBytes = 0
	bytebufferpool.Put(w.assembled)
	w.assembled = nil
}

// Finalize flushes any remaining buffered rows and returns the
// assembled file plus all row-group metadata and zone maps.
func (w *Writer) Finalize(ctx context.Context) (*FinalizedFile, error) {
	w.mu.Lock()
	if w.aborted {
		w.mu.Unlock()
		return nil, fmt.Errorf("columnar: writer aborted")
	}
	remaining := w.batch
	w.batch = nil
	w.batchBytes = 0
	w.mu.Unlock()

	if len(remaining) > 0 {
		if err := w.flush(ctx, remaining); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushErr != nil {
		return nil, w.flushErr
	}
	out := &FinalizedFile{
		Bytes:     append([]byte(nil), w.assembled.Bytes()...),
		RowGroups: w.rowGroups,
		ZoneMap:   w.zoneMaps,
	}
	bytebufferpool.Put(w.assembled)
	w.assembled = nil
	return out, nil
}
