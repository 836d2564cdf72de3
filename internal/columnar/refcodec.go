package columnar

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/variant"
)

// variantEncoded is the gob-carried form of a TypeVariant column
// value: the self-describing metadata+value binary pair of spec §4.3,
// rather than the raw Go map/slice tree gob would otherwise round-trip
// unchanged.
type variantEncoded struct {
	Metadata []byte
	Value    []byte
}

func init() {
	gob.Register(int(0))
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(false)
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(schema.Row(nil))
	gob.Register(variantEncoded{})
}

// RefCodec is the reference Codec used by this module's own tests in
// place of a real external columnar-format library (spec §1 explicitly
// keeps the binary codec itself out of scope). It stores each row
// group as a length-prefixed gob blob and is self-contained: Decode
// can recover row-group boundaries from the stream without needing an
// external footer, since RefCodec owns both ends of the format.
type RefCodec struct{}

func NewRefCodec() *RefCodec { return &RefCodec{} }

func (RefCodec) EncodeRowGroup(ctx context.Context, rows []schema.Row, sch schema.Schema, opts WriterOptions) ([]byte, map[string]ColumnStats, error) {
	variantCols := variantColumns(sch)
	encodedRows := rows
	if len(variantCols) > 0 {
		encodedRows = make([]schema.Row, len(rows))
		for i, row := range rows {
			encodedRows[i] = encodeVariantColumns(row, variantCols)
		}
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(encodedRows); err != nil {
		return nil, nil, fmt.Errorf("refcodec: encode row group: %w", err)
	}

	var out bytes.Buffer
	var lenB [4]byte
	binary.LittleEndian.PutUint32(lenB[:], uint32(body.Len()))
	out.Write(lenB[:])
	out.Write(body.Bytes())

	var stats map[string]ColumnStats
	if opts.EmitStats {
		stats = computeStats(rows, sch, opts.EstimateDistinct)
	}
	return out.Bytes(), stats, nil
}

func (RefCodec) Decode(ctx context.Context, fileBytes []byte, wantColumns []string) (RowIterator, error) {
	var rows []schema.Row
	pos := 0
	for pos < len(fileBytes) {
		if pos+4 > len(fileBytes) {
			return nil, fmt.Errorf("refcodec: truncated length prefix at %d", pos)
		}
		n := int(binary.LittleEndian.Uint32(fileBytes[pos : pos+4]))
		pos += 4
		if pos+n > len(fileBytes) {
			return nil, fmt.Errorf("refcodec: truncated row group at %d (want %d bytes)", pos, n)
		}
		var batch []schema.Row
		if err := gob.NewDecoder(bytes.NewReader(fileBytes[pos : pos+n])).Decode(&batch); err != nil {
			return nil, fmt.Errorf("refcodec: decode row group: %w", err)
		}
		for i, row := range batch {
			batch[i] = decodeVariantColumns(row)
		}
		rows = append(rows, batch...)
		pos += n
	}

	if len(wantColumns) > 0 {
		keep := make(map[string]bool, len(wantColumns))
		for _, c := range wantColumns {
			keep[c] = true
		}
		projected := make([]schema.Row, len(rows))
		for i, r := range rows {
			nr := make(schema.Row, len(keep))
			for k := range keep {
				if v, ok := r[k]; ok {
					nr[k] = v
				}
			}
			projected[i] = nr
		}
		rows = projected
	}

	return &sliceIterator{rows: rows}, nil
}

// variantColumns returns the names of sch's TypeVariant fields.
func variantColumns(sch schema.Schema) []string {
	var cols []string
	for _, f := range sch.Fields {
		if f.Type == schema.TypeVariant {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

func encodeVariantColumns(row schema.Row, cols []string) schema.Row {
	out := row.Clone()
	for _, c := range cols {
		v, ok := row[c]
		if !ok || v == nil {
			continue
		}
		metadata, value := variant.Encode(variant.FromAny(v))
		out[c] = variantEncoded{Metadata: metadata, Value: value}
	}
	return out
}

func decodeVariantColumns(row schema.Row) schema.Row {
	var out schema.Row
	for c, v := range row {
		ve, ok := v.(variantEncoded)
		if !ok {
			continue
		}
		decoded, err := variant.Decode(ve.Metadata, ve.Value)
		if err != nil {
			continue // leave the raw variantEncoded value rather than fail the whole read
		}
		if out == nil {
			out = row
		}
		out[c] = decoded.ToAny()
	}
	if out == nil {
		return row
	}
	return out
}

type sliceIterator struct {
	rows []schema.Row
	pos  int
}

func (it *sliceIterator) Next() (schema.Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// computeStats scans rows to produce the min/max/nullCount/distinctCount
// contract a real columnar library's footer would give us. Distinct
// counts use a tiny HyperLogLog-style sketch seeded by blake2b so large
// columns don't require an exact in-memory set.
func computeStats(rows []schema.Row, sch schema.Schema, estimateDistinct bool) map[string]ColumnStats {
	cols := sch.Names()
	out := make(map[string]ColumnStats, len(cols))
	sketches := make(map[string]*hllSketch, len(cols))
	for _, c := range cols {
		sketches[c] = newHLLSketch()
	}

	for _, row := range rows {
		for _, c := range cols {
			v, present := row[c]
			cs := out[c]
			if !present || v == nil {
				cs.NullCount++
				out[c] = cs
				continue
			}
			if cs.Min == nil || lessValue(v, cs.Min) {
				cs.Min = v
			}
			if cs.Max == nil || lessValue(cs.Max, v) {
				cs.Max = v
			}
			out[c] = cs
			if estimateDistinct {
				sketches[c].Add(fmt.Sprint(v))
			}
		}
	}
	if estimateDistinct {
		for c, sk := range sketches {
			cs := out[c]
			est := sk.Estimate()
			cs.DistinctCount = &est
			out[c] = cs
		}
	}
	return out
}

// lessValue provides a best-effort ordering across the primitive types
// the engine carries, sufficient for min/max bookkeeping in stats.
func lessValue(a, b any) bool {
	switch av := a.(type) {
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case int32:
		if bv, ok := b.(int32); ok {
			return av < bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

const hllBuckets = 16 // 4-bit bucket index

type hllSketch struct {
	reg [hllBuckets]uint8
}

func newHLLSketch() *hllSketch { return &hllSketch{} }

func (h *hllSketch) Add(s string) {
	sum := blake2b.Sum256([]byte(s))
	bucket := sum[0] & (hllBuckets - 1)
	rest := uint64(0)
	for i := 1; i <= 8; i++ {
		rest = rest<<8 | uint64(sum[i])
	}
	rho := uint8(1)
	for rest != 0 && rest&1 == 0 {
		rho++
		rest >>= 1
	}
	if rho > h.reg[bucket] {
		h.reg[bucket] = rho
	}
}

func (h *hllSketch) Estimate() int64 {
	sum := 0.0
	zeros := 0
	for _, r := range h.reg {
		sum += 1.0 / float64(int(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	const alpha = 0.673 // alpha_m constant for m=16
	estimate := alpha * hllBuckets * hllBuckets / sum
	if zeros > 0 && estimate < 2.5*hllBuckets {
		estimate = hllBuckets * math.Log(float64(hllBuckets)/float64(zeros))
	}
	if estimate < 0 {
		estimate = 0
	}
	return int64(estimate + 0.5)
}
