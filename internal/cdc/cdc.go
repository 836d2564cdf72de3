// Package cdc implements change-data-capture emission and replay per
// spec §3, §4.9: one columnar file per commit under `_change_data/`,
// one record per affected row, read back by version range, timestamp
// range, or live subscription. Grounded on the teacher's
// CollectWALChanges (db.go) which already diffs two table states into
// a change list; this package generalizes that diff into the
// insert/update/delete CDC record shape and persists it with
// columnar.Writer instead of keeping it in-process.
package cdc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/storage"
)

// ChangeType enumerates the `_change_type` discriminator (spec §4.9).
type ChangeType string

const (
	ChangeInsert          ChangeType = "insert"
	ChangeUpdatePreimage  ChangeType = "update_preimage"
	ChangeUpdatePostimage ChangeType = "update_postimage"
	ChangeDelete          ChangeType = "delete"
)

// Op is the compact `_op` discriminator of spec §3's CDC Record.
type Op string

const (
	OpCreate Op = "c"
	OpUpdate Op = "u"
	OpDelete Op = "d"
	OpRead   Op = "r"
)

// Record is one CDC event, per spec §3.
type Record struct {
	ID           any
	Seq          int64
	Op           Op
	ChangeType   ChangeType
	Before       schema.Row
	After        schema.Row
	TimestampNs  int64
	Source       string
	TxnID        string
	CommitVersion int64
}

func (r Record) toRow() schema.Row {
	return schema.Row{
		"_id":           r.ID,
		"_seq":          r.Seq,
		"_op":           string(r.Op),
		"_change_type":  string(r.ChangeType),
		"_before":       r.Before,
		"_after":        r.After,
		"_ts":           r.TimestampNs,
		"_source":       r.Source,
		"_txn":          r.TxnID,
		"_commitVersion": r.CommitVersion,
	}
}

func rowToRecord(row schema.Row) Record {
	get := func(k string) any { return row[k] }
	asRow := func(v any) schema.Row {
		if r, ok := v.(schema.Row); ok {
			return r
		}
		if m, ok := v.(map[string]any); ok {
			return schema.Row(m)
		}
		return nil
	}
	asInt64 := func(v any) int64 {
		switch x := v.(type) {
		case int64:
			return x
		case int:
			return int64(x)
		case float64:
			return int64(x)
		default:
			return 0
		}
	}
	return Record{
		ID:            get("_id"),
		Seq:           asInt64(get("_seq")),
		Op:            Op(fmt.Sprint(get("_op"))),
		ChangeType:    ChangeType(fmt.Sprint(get("_change_type"))),
		Before:        asRow(get("_before")),
		After:         asRow(get("_after")),
		TimestampNs:   asInt64(get("_ts")),
		Source:        fmt.Sprint(get("_source")),
		TxnID:         fmt.Sprint(get("_txn")),
		CommitVersion: asInt64(get("_commitVersion")),
	}
}

// Producer assigns strictly increasing per-producer _seq values (spec
// invariant 7), tagged with a stable producer id minted from
// google/uuid the way the rest of this module mints identifiers.
type Producer struct {
	mu   sync.Mutex
	id   string
	next int64
}

// NewProducer creates a Producer with a fresh identity.
func NewProducer() *Producer {
	return &Producer{id: uuid.NewString()}
}

// ID returns the producer's stable identity, used as Record.Source.
func (p *Producer) ID() string { return p.id }

// NextSeq returns the next monotonic sequence number.
func (p *Producer) NextSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return p.next
}

func dataPath(tablePath string, version int64) string {
	return fmt.Sprintf("%s/_change_data/cdc-%020d.parquet", tablePath, version)
}

// Writer persists one commit's CDC records as a single columnar file.
type Writer struct {
	codec   columnar.Codec
	backend storage.Backend
}

func NewWriter(codec columnar.Codec, backend storage.Backend) *Writer {
	return &Writer{codec: codec, backend: backend}
}

// WriteCommit emits records as `_change_data/cdc-<version>.parquet`.
// An empty records slice is a CDCError{EMPTY_WRITE} since a CDC file
// with zero records would be a pointless artifact.
func (w *Writer) WriteCommit(ctx context.Context, tablePath string, version int64, records []Record) error {
	if len(records) == 0 {
		return deltaerr.NewCDCError(deltaerr.CDCEmptyWrite, "no CDC records to write for commit", nil)
	}
	cw := columnar.NewWriter(w.codec, columnar.DefaultWriterOptions(), nil)
	for _, r := range records {
		if err := cw.WriteRow(ctx, r.toRow()); err != nil {
			cw.Abort()
			return deltaerr.NewCDCError(deltaerr.CDCParseError, "encode CDC record", err)
		}
	}
	file, err := cw.Finalize(ctx)
	if err != nil {
		return deltaerr.NewCDCError(deltaerr.CDCParseError, "finalize CDC file", err)
	}
	path := dataPath(tablePath, version)
	if err := w.backend.Write(ctx, path, file.Bytes); err != nil {
		return deltaerr.NewCDCError(deltaerr.CDCStorageError, "write CDC file", err)
	}
	return nil
}

// Reader replays committed CDC files.
type Reader struct {
	codec   columnar.Codec
	backend storage.Backend
}

func NewReader(codec columnar.Codec, backend storage.Backend) *Reader {
	return &Reader{codec: codec, backend: backend}
}

// ReadByVersion returns records for commits in [fromVersion, toVersion],
// in commit order then _seq order (spec §4.9).
func (r *Reader) ReadByVersion(ctx context.Context, tablePath string, fromVersion, toVersion int64) ([]Record, error) {
	if fromVersion > toVersion {
		return nil, deltaerr.NewCDCError(deltaerr.CDCInvalidVersionRange, fmt.Sprintf("fromVersion %d > toVersion %d", fromVersion, toVersion), nil)
	}
	var out []Record
	for v := fromVersion; v <= toVersion; v++ {
		path := dataPath(tablePath, v)
		exists, err := r.backend.Exists(ctx, path)
		if err != nil {
			return nil, deltaerr.NewCDCError(deltaerr.CDCStorageError, "check CDC file", err)
		}
		if !exists {
			continue // CDC may not be enabled, or no changes, for this commit
		}
		data, err := r.backend.Read(ctx, path)
		if err != nil {
			return nil, deltaerr.NewCDCError(deltaerr.CDCStorageError, "read CDC file", err)
		}
		it, err := r.codec.Decode(ctx, data, nil)
		if err != nil {
			return nil, deltaerr.NewCDCError(deltaerr.CDCParseError, "decode CDC file", err)
		}
		var versionRecords []Record
		for {
			row, ok, err := it.Next()
			if err != nil {
				it.Close()
				return nil, deltaerr.NewCDCError(deltaerr.CDCParseError, "decode CDC row", err)
			}
			if !ok {
				break
			}
			versionRecords = append(versionRecords, rowToRecord(row))
		}
		it.Close()
		for i := 1; i < len(versionRecords); i++ {
			for j := i; j > 0 && versionRecords[j].Seq < versionRecords[j-1].Seq; j-- {
				versionRecords[j], versionRecords[j-1] = versionRecords[j-1], versionRecords[j]
			}
		}
		out = append(out, versionRecords...)
	}
	return out, nil
}

// CommitTimeLookup resolves a version to its commit timestamp (ms),
// supplied by the caller since only the txlog package owns CommitInfo.
type CommitTimeLookup func(ctx context.Context, version int64) (int64, bool, error)

// ReadByTimestamp returns records for commits whose timestamp falls in
// [fromTs, toTs], found by scanning versions via lookup.
func (r *Reader) ReadByTimestamp(ctx context.Context, tablePath string, fromTs, toTs int64, latestVersion int64, lookup CommitTimeLookup) ([]Record, error) {
	if fromTs > toTs {
		return nil, deltaerr.NewCDCError(deltaerr.CDCInvalidTimeRange, fmt.Sprintf("fromTs %d > toTs %d", fromTs, toTs), nil)
	}
	var out []Record
	for v := int64(0); v <= latestVersion; v++ {
		ts, ok, err := lookup(ctx, v)
		if err != nil {
			return nil, err
		}
		if !ok || ts < fromTs || ts > toTs {
			continue
		}
		recs, err := r.ReadByVersion(ctx, tablePath, v, v)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Subscribe polls for new commits from fromVersion (exclusive) onward,
// invoking callback once per record in order, until ctx is cancelled.
// pollInterval bounds the poll cadence; latest returns the current
// committed version (supplied by the caller's Table instance).
func (r *Reader) Subscribe(ctx context.Context, tablePath string, fromVersion int64, pollInterval time.Duration, latest func(ctx context.Context) (int64, error), callback func(Record) error) error {
	seen := fromVersion
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return deltaerr.NewAbortError(ctx.Err())
		case <-ticker.C:
			cur, err := latest(ctx)
			if err != nil {
				return err
			}
			if cur <= seen {
				continue
			}
			recs, err := r.ReadByVersion(ctx, tablePath, seen+1, cur)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := callback(rec); err != nil {
					return err
				}
			}
			seen = cur
		}
	}
}
