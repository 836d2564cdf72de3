// Package deltalake implements an embeddable, storage-backend-agnostic
// table engine following the Delta Lake transaction-log protocol: an
// append-only, checkpointed JSON action log backed by optimistic
// concurrency on a single conditional-write primitive (spec §4.1,
// §4.5). Table is the engine's single entry point; every read or
// write operation goes through it.
//
// Grounded on the teacher's top-level DB/Table API in tinysql.go and
// sql.go (NewDB, query/exec, catalog-driven tables), generalized from
// an in-process SQL row store to a log-replayed columnar file store.
package deltalake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deltaforge/deltalake/internal/aggregate"
	"github.com/deltaforge/deltalake/internal/cdc"
	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/columnmap"
	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/dv"
	"github.com/deltaforge/deltalake/internal/filter"
	"github.com/deltaforge/deltalake/internal/logging"
	"github.com/deltaforge/deltalake/internal/maintenance"
	"github.com/deltaforge/deltalake/internal/projection"
	"github.com/deltaforge/deltalake/internal/retry"
	"github.com/deltaforge/deltalake/internal/rowreflect"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/scheduler"
	"github.com/deltaforge/deltalake/internal/snapshot"
	"github.com/deltaforge/deltalake/internal/storage"
	"github.com/deltaforge/deltalake/internal/txlog"
	"github.com/deltaforge/deltalake/internal/zonemap"
)

// Table is a single Delta-protocol table rooted at tablePath on
// backend. The mutex serializes cached-state mutation (version,
// snapshot, schema, mapping); the actual storage I/O for a write or
// rewrite runs with the lock released, following the design note that
// the mutex only owns state transitions, not long-running I/O.
type Table struct {
	backend   storage.Backend
	codec     columnar.Codec
	tablePath string

	mu      sync.Mutex
	snap    *snapshot.Snapshot
	schema  schema.Schema
	config  TableConfig
	mapping *columnmap.Mapping
	log     *logging.Logger

	cdcProducer *cdc.Producer
	fileCache   map[string][]schema.Row
}

// Open builds a Table over an existing (or not-yet-created) table
// path, replaying the transaction log up to its current head (spec
// §4.5 "Snapshot construction"). A table with no commits yet opens
// successfully with a nil Metadata; its first Write establishes one.
func Open(ctx context.Context, backend storage.Backend, codec columnar.Codec, tablePath string) (*Table, error) {
	t := &Table{
		backend:     backend,
		codec:       codec,
		tablePath:   tablePath,
		config:      DefaultTableConfig(),
		log:         logging.Nop(),
		cdcProducer: cdc.NewProducer(),
	}
	version, err := txlog.LatestVersion(ctx, backend, tablePath)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Build(ctx, backend, codec, tablePath, version)
	if err != nil {
		return nil, err
	}
	if err := t.refreshFromSnapshotLocked(snap); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenWithConfig is like Open, but seeds cfg as the table's
// configuration for its first Write, when no Metadata already exists
// on the log to override it.
func OpenWithConfig(ctx context.Context, backend storage.Backend, codec columnar.Codec, tablePath string, cfg TableConfig) (*Table, error) {
	t, err := Open(ctx, backend, codec, tablePath)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.snap.Metadata == nil {
		t.config = cfg
	}
	t.mu.Unlock()
	return t, nil
}

// SetLogger attaches l as the table's logger for maintenance and
// checkpoint diagnostics; a nil l silences them.
func (t *Table) SetLogger(l *logging.Logger) {
	t.mu.Lock()
	t.log = l
	t.mu.Unlock()
}

// Scheduler returns a scheduler bound to this table's Compact, Vacuum,
// and Checkpoint methods, ready for AddJob/Start.
func (t *Table) Scheduler() *scheduler.Scheduler {
	return scheduler.New(t)
}

// Version returns the currently cached snapshot's version (spec §4.6
// "version()").
func (t *Table) Version() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Version
}

// RefreshVersion re-reads the log head and updates the cached
// snapshot (spec §4.6 "refreshVersion()"), the recovery path a caller
// takes after a ConcurrencyError.
func (t *Table) RefreshVersion(ctx context.Context) error {
	latest, err := txlog.LatestVersion(ctx, t.backend, t.tablePath)
	if err != nil {
		return err
	}
	snap, err := snapshot.Build(ctx, t.backend, t.codec, t.tablePath, latest)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshFromSnapshotLocked(snap)
}

// Snapshot returns the live-file view at version, or the cached
// current snapshot when version is nil (spec §4.6 "snapshot(version?)").
func (t *Table) Snapshot(ctx context.Context, version *int64) (*snapshot.Snapshot, error) {
	if version == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.snap, nil
	}
	return snapshot.Build(ctx, t.backend, t.codec, t.tablePath, *version)
}

func (t *Table) refreshFromSnapshotLocked(snap *snapshot.Snapshot) error {
	t.snap = snap
	if snap.Metadata == nil {
		return nil
	}
	sch, err := schema.ParseSchemaString(snap.Metadata.SchemaString)
	if err != nil {
		return err
	}
	cfg := ParseTableConfig(snap.Metadata.Configuration)
	cfg.PartitionColumns = snap.Metadata.PartitionColumns
	mapping, err := columnmap.Build(cfg.ColumnMappingMode, sch)
	if err != nil {
		return err
	}
	t.schema = sch
	t.config = cfg
	t.mapping = mapping
	return nil
}

func (t *Table) maintenanceDeps() maintenance.Deps {
	return maintenance.Deps{Backend: t.backend, Codec: t.codec, TablePath: t.tablePath, Log: t.log}
}

// --- Write ---

// Write appends rows as one or more new data files and commits them
// in a single atomic log entry (spec §4.6 "write(rows, options?)"). A
// table with no existing Metadata infers its schema from rows[0].
func (t *Table) Write(ctx context.Context, rows []schema.Row) error {
	return t.commitWrite(ctx, rows, "WRITE")
}

// WriteStructs flattens structs (a slice of struct or *struct values)
// into rows via internal/rowreflect and writes them.
func (t *Table) WriteStructs(ctx context.Context, structs any) error {
	rows, err := rowreflect.ToRows(structs)
	if err != nil {
		return deltaerr.NewValidationError("structs", structs, err.Error())
	}
	return t.commitWrite(ctx, rows, "WRITE")
}

// commitWrite is a no-op for an empty rows slice: per the pinned
// empty-write policy, Write(ctx, nil) produces no commit at all,
// whether or not the table already has an established schema, rather
// than either erroring or appending a CommitInfo-only entry.
func (t *Table) commitWrite(ctx context.Context, rows []schema.Row, operation string) error {
	if len(rows) == 0 {
		return nil
	}

	t.mu.Lock()
	snap := t.snap
	cfg := t.config
	workingSchema := t.schema
	mapping := t.mapping
	t.mu.Unlock()

	var metadataAction *txlog.MetadataAction
	var protocolAction *txlog.ProtocolAction

	if snap.Metadata == nil {
		workingSchema = schema.Infer(rows[0])
		assignColumnMappingMetadata(&workingSchema, cfg.ColumnMappingMode)
		var err error
		mapping, err = columnmap.Build(cfg.ColumnMappingMode, workingSchema)
		if err != nil {
			return err
		}
		schemaString, err := schema.MarshalSchemaString(workingSchema)
		if err != nil {
			return err
		}
		metadataAction = &txlog.MetadataAction{
			ID:               txlog.NewTxnID(),
			SchemaString:     schemaString,
			PartitionColumns: cfg.PartitionColumns,
			Configuration:    cfg.ToConfiguration(),
			Format:           "delta",
		}
		protocolAction = &txlog.ProtocolAction{MinReaderVersion: 1, MinWriterVersion: 2}
	} else {
		for _, row := range rows {
			if err := schema.Reconcile(&workingSchema, row); err != nil {
				return deltaerr.NewValidationError("row", row, err.Error())
			}
		}
	}

	groups := map[string][]schema.Row{}
	groupPV := map[string]map[string]string{}
	for _, row := range rows {
		pv := extractPartitionValues(row, cfg.PartitionColumns)
		key := partitionGroupKey(pv)
		groups[key] = append(groups[key], row)
		groupPV[key] = pv
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var adds []*txlog.AddFile
	for _, k := range keys {
		physicalRows := make([]schema.Row, len(groups[k]))
		for i, row := range groups[k] {
			physicalRows[i] = mapping.RowToPhysical(row)
		}
		add, err := t.writeDataFile(ctx, physicalRows, groupPV[k])
		if err != nil {
			return err
		}
		adds = append(adds, add)
	}

	actions := make([]txlog.Action, 0, len(adds)+3)
	if metadataAction != nil {
		actions = append(actions, txlog.Action{Metadata: metadataAction})
	}
	if protocolAction != nil {
		actions = append(actions, txlog.Action{Protocol: protocolAction})
	}
	for _, a := range adds {
		actions = append(actions, txlog.Action{Add: a})
	}
	readVersion := snap.Version
	actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfoAction{
		Timestamp:     time.Now().UnixMilli(),
		Operation:     operation,
		TxnID:         txlog.NewTxnID(),
		ReadVersion:   &readVersion,
		IsBlindAppend: boolPtr(true),
	}})

	var cdcRecords []cdc.Record
	if cfg.EnableChangeDataFeed {
		nowNs := time.Now().UnixNano()
		for _, row := range rows {
			cdcRecords = append(cdcRecords, cdc.Record{
				ID: row["_id"], Op: cdc.OpCreate, ChangeType: cdc.ChangeInsert,
				After: row, TimestampNs: nowNs, Source: t.cdcProducer.ID(),
			})
		}
	}

	return t.finalizeCommit(ctx, readVersion, actions, cdcRecords)
}

// finalizeCommit is the shared tail of every mutating operation:
// attempt the conditional commit, best-effort-write CDC records,
// rebuild the cached snapshot, and trigger a checkpoint on interval.
func (t *Table) finalizeCommit(ctx context.Context, readVersion int64, actions []txlog.Action, cdcRecords []cdc.Record) error {
	res, err := txlog.CommitAt(ctx, t.backend, t.tablePath, readVersion, actions)
	if err != nil {
		return err
	}

	if len(cdcRecords) > 0 {
		for i := range cdcRecords {
			cdcRecords[i].Seq = t.cdcProducer.NextSeq()
			cdcRecords[i].CommitVersion = res.Version
		}
		w := cdc.NewWriter(t.codec, t.backend)
		if err := w.WriteCommit(ctx, t.tablePath, res.Version, cdcRecords); err != nil {
			t.log.Warnf("cdc write failed for version %d: %v", res.Version, err)
		}
	}

	newSnap, err := snapshot.Build(ctx, t.backend, t.codec, t.tablePath, res.Version)
	if err != nil {
		return err
	}
	t.mu.Lock()
	err = t.refreshFromSnapshotLocked(newSnap)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.maybeCheckpoint(ctx, res.Version)
	return nil
}

func (t *Table) maybeCheckpoint(ctx context.Context, version int64) {
	t.mu.Lock()
	interval := t.config.CheckpointInterval
	snap := t.snap
	t.mu.Unlock()
	if interval <= 0 || version == 0 || version%int64(interval) != 0 {
		return
	}
	actions := actionsFromSnapshot(snap)
	if err := txlog.WriteCheckpoint(ctx, t.backend, t.codec, t.tablePath, version, actions, txlog.CheckpointOptions{}); err != nil {
		t.log.Warnf("checkpoint at version %d failed: %v", version, err)
	}
}

func actionsFromSnapshot(snap *snapshot.Snapshot) []txlog.Action {
	var actions []txlog.Action
	if snap.Metadata != nil {
		actions = append(actions, txlog.Action{Metadata: snap.Metadata})
	}
	if snap.Protocol != nil {
		actions = append(actions, txlog.Action{Protocol: snap.Protocol})
	}
	for _, p := range snap.SortedPaths() {
		add := snap.Files[p]
		actions = append(actions, txlog.Action{Add: add})
	}
	return actions
}

func (t *Table) dataFilePath(pv map[string]string) string {
	return fmt.Sprintf("%s/%sdata-%s.parquet", t.tablePath, partitionGroupKey(pv), uuid.NewString())
}

func (t *Table) writeDataFile(ctx context.Context, rows []schema.Row, pv map[string]string) (*txlog.AddFile, error) {
	w := columnar.NewWriter(t.codec, columnar.DefaultWriterOptions(), nil)
	for _, r := range rows {
		if err := w.WriteRow(ctx, r); err != nil {
			w.Abort()
			return nil, err
		}
	}
	file, err := w.Finalize(ctx)
	if err != nil {
		return nil, err
	}
	path := t.dataFilePath(pv)
	if err := t.backend.Write(ctx, path, file.Bytes); err != nil {
		return nil, err
	}
	return &txlog.AddFile{
		Path:             path,
		PartitionValues:  pv,
		Size:             int64(len(file.Bytes)),
		ModificationTime: time.Now().UnixMilli(),
		DataChange:       true,
		Stats:            aggregateFileStats(file, len(rows)),
	}, nil
}

func aggregateFileStats(file *columnar.FinalizedFile, numRows int) *txlog.FileStats {
	stats := &txlog.FileStats{NumRecords: int64(numRows)}
	if len(file.RowGroups) == 0 {
		return stats
	}
	stats.MinValues = map[string]any{}
	stats.MaxValues = map[string]any{}
	stats.NullCount = map[string]int64{}
	for _, rg := range file.RowGroups {
		for col, cs := range rg.Stats {
			if cs.Min != nil {
				if cur, ok := stats.MinValues[col]; !ok || cur == nil || statValueLess(cs.Min, cur) {
					stats.MinValues[col] = cs.Min
				}
			} else if _, ok := stats.MinValues[col]; !ok {
				stats.MinValues[col] = nil
			}
			if cs.Max != nil {
				if cur, ok := stats.MaxValues[col]; !ok || cur == nil || statValueLess(cur, cs.Max) {
					stats.MaxValues[col] = cs.Max
				}
			} else if _, ok := stats.MaxValues[col]; !ok {
				stats.MaxValues[col] = nil
			}
			stats.NullCount[col] += cs.NullCount
		}
	}
	return stats
}

// statValueLess provides a best-effort ordering across the primitive
// types a row-group's min/max stats carry, just enough to widen a
// file's stats to min-of-mins / max-of-maxes across all its row
// groups instead of only the first one seen.
func statValueLess(a, b any) bool {
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

// --- Read ---

// QueryOptions configures Query and Aggregate.
type QueryOptions struct {
	// Version pins the read to a historical snapshot (spec §4.6 "time
	// travel"); nil reads the table's current cached version.
	Version *int64

	// Projection is the raw wire form accepted by internal/projection.Parse:
	// an ordered path list, or an inclusion/exclusion map.
	Projection any
}

// Rows is a forward-only cursor over a Query result.
type Rows struct {
	rows []schema.Row
	i    int
}

// Next returns the next row, or ok=false once exhausted.
func (r *Rows) Next() (schema.Row, bool, error) {
	if r.i >= len(r.rows) {
		return nil, false, nil
	}
	row := r.rows[r.i]
	r.i++
	return row, true, nil
}

// Close releases the cursor; Rows holds no external resources, so
// this is always a no-op, kept for symmetry with columnar.RowIterator.
func (r *Rows) Close() error { return nil }

// All drains and returns every remaining row.
func (r *Rows) All() []schema.Row {
	rest := r.rows[r.i:]
	r.i = len(r.rows)
	return rest
}

// Query matches filterRaw (spec §4.4 Mongo-style filter wire form)
// against the resolved snapshot, pruning whole files via zone maps
// before reading them, and applies opts.Projection to surviving rows.
func (t *Table) Query(ctx context.Context, filterRaw map[string]any, opts QueryOptions) (*Rows, error) {
	snap, err := t.Snapshot(ctx, opts.Version)
	if err != nil {
		return nil, err
	}
	f, err := filter.Parse(filterRaw)
	if err != nil {
		return nil, deltaerr.NewValidationError("filter", filterRaw, err.Error())
	}
	var proj projection.Projection
	hasProj := opts.Projection != nil
	if hasProj {
		proj, err = projection.Parse(opts.Projection)
		if err != nil {
			return nil, deltaerr.NewValidationError("projection", opts.Projection, err.Error())
		}
	}

	var out []schema.Row
	for _, path := range snap.SortedPaths() {
		add := snap.Files[path]
		if zonemap.CanSkip(f, addFileZoneMap(add)) {
			continue
		}
		rows, err := t.readLogicalRows(ctx, add)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if !filter.Match(f, row) {
				continue
			}
			if hasProj {
				row = projection.Apply(proj, row)
			}
			out = append(out, row)
		}
	}
	return &Rows{rows: out}, nil
}

// Aggregate runs stages (spec §4.4 pipeline: $match/$group/$project/
// $sort/$limit/$skip/$unwind) over the rows filterRaw and opts select.
func (t *Table) Aggregate(ctx context.Context, filterRaw map[string]any, stages []aggregate.Stage, opts QueryOptions) (aggregate.Result, error) {
	rows, err := t.Query(ctx, filterRaw, opts)
	if err != nil {
		return aggregate.Result{}, err
	}
	return aggregate.Run(rows.All(), stages)
}

func (t *Table) readLogicalRows(ctx context.Context, add *txlog.AddFile) ([]schema.Row, error) {
	data, err := t.backend.Read(ctx, add.Path)
	if err != nil {
		return nil, err
	}
	it, err := t.codec.Decode(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []schema.Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	if add.DeletionVector != nil {
		bm, err := t.resolveDV(ctx, add.DeletionVector)
		if err != nil {
			return nil, err
		}
		keepIdx := bm.ApplyFilter(int64(len(rows)))
		filtered := make([]schema.Row, len(keepIdx))
		for i, idx := range keepIdx {
			filtered[i] = rows[idx]
		}
		rows = filtered
	}

	t.mu.Lock()
	mapping := t.mapping
	t.mu.Unlock()
	if mapping != nil {
		for i := range rows {
			rows[i] = mapping.RowToLogical(rows[i])
		}
	}
	return rows, nil
}

func (t *Table) resolveDV(ctx context.Context, d *txlog.DVDescriptor) (*dv.Bitmap, error) {
	if len(d.Storage) == 0 {
		return nil, deltaerr.NewValidationError("deletionVector.storage", d.Storage, "missing storage kind")
	}
	desc := dv.Descriptor{
		Storage:        dv.StorageKind(d.Storage[0]),
		PathOrInlineDV: d.PathOrInlineDV,
		Offset:         d.Offset,
		SizeInBytes:    d.SizeInBytes,
		Cardinality:    d.Cardinality,
	}
	return dv.Resolve(desc, func(pathOrInlineDV string, offset *int64, size int64) ([]byte, error) {
		path := pathOrInlineDV
		if !strings.HasPrefix(path, t.tablePath+"/") {
			path = t.tablePath + "/" + path
		}
		return t.backend.Read(ctx, path)
	})
}

// --- Update / Delete / Merge ---

// Update rewrites every row matching filterRaw through mutate, as a
// single atomic Remove+Add commit per touched file (spec §4.6
// "update(filter, mutator, options?)"). This implementation always
// physically rewrites matched files rather than attaching a deletion
// vector; see DESIGN.md for the open-question rationale.
func (t *Table) Update(ctx context.Context, filterRaw map[string]any, mutate func(schema.Row) schema.Row) error {
	return t.rewrite(ctx, filterRaw, "UPDATE", func(row schema.Row) (schema.Row, bool) {
		return mutate(row.Clone()), true
	})
}

// Delete removes every row matching filterRaw (spec §4.6
// "delete(filter, options?)").
func (t *Table) Delete(ctx context.Context, filterRaw map[string]any) error {
	return t.rewrite(ctx, filterRaw, "DELETE", func(row schema.Row) (schema.Row, bool) {
		return nil, false
	})
}

func (t *Table) rewrite(ctx context.Context, filterRaw map[string]any, operation string, visit func(schema.Row) (schema.Row, bool)) error {
	t.mu.Lock()
	snap := t.snap
	mapping := t.mapping
	cfg := t.config
	workingSchema := t.schema
	t.mu.Unlock()

	f, err := filter.Parse(filterRaw)
	if err != nil {
		return deltaerr.NewValidationError("filter", filterRaw, err.Error())
	}

	var removePaths []string
	var adds []*txlog.AddFile
	var cdcRecords []cdc.Record
	nowNs := time.Now().UnixNano()

	for _, path := range snap.SortedPaths() {
		add := snap.Files[path]
		if zonemap.CanSkip(f, addFileZoneMap(add)) {
			continue
		}
		rows, err := t.readLogicalRows(ctx, add)
		if err != nil {
			return err
		}

		matchedAny := false
		kept := make([]schema.Row, 0, len(rows))
		for _, row := range rows {
			if !filter.Match(f, row) {
				kept = append(kept, row)
				continue
			}
			matchedAny = true
			newRow, keep := visit(row)
			if !keep {
				if cfg.EnableChangeDataFeed {
					cdcRecords = append(cdcRecords, cdc.Record{
						ID: row["_id"], Op: cdc.OpDelete, ChangeType: cdc.ChangeDelete,
						Before: row, TimestampNs: nowNs, Source: t.cdcProducer.ID(),
					})
				}
				continue
			}
			if err := schema.Reconcile(&workingSchema, newRow); err != nil {
				return deltaerr.NewValidationError("row", newRow, err.Error())
			}
			if cfg.EnableChangeDataFeed {
				cdcRecords = append(cdcRecords,
					cdc.Record{ID: row["_id"], Op: cdc.OpUpdate, ChangeType: cdc.ChangeUpdatePreimage, Before: row, TimestampNs: nowNs, Source: t.cdcProducer.ID()},
					cdc.Record{ID: newRow["_id"], Op: cdc.OpUpdate, ChangeType: cdc.ChangeUpdatePostimage, After: newRow, TimestampNs: nowNs, Source: t.cdcProducer.ID()},
				)
			}
			kept = append(kept, newRow)
		}
		if !matchedAny {
			continue
		}

		removePaths = append(removePaths, path)
		if len(kept) > 0 {
			physicalRows := make([]schema.Row, len(kept))
			for i, row := range kept {
				physicalRows[i] = mapping.RowToPhysical(row)
			}
			newAdd, err := t.writeDataFile(ctx, physicalRows, add.PartitionValues)
			if err != nil {
				return err
			}
			adds = append(adds, newAdd)
		}
	}

	if len(removePaths) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	actions := make([]txlog.Action, 0, len(removePaths)+len(adds)+1)
	for _, p := range removePaths {
		actions = append(actions, txlog.Action{Remove: &txlog.RemoveFile{Path: p, DeletionTimestamp: now, DataChange: true}})
	}
	for _, a := range adds {
		actions = append(actions, txlog.Action{Add: a})
	}
	readVersion := snap.Version
	actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfoAction{
		Timestamp: now, Operation: operation, TxnID: txlog.NewTxnID(), ReadVersion: &readVersion,
	}})

	return t.finalizeCommit(ctx, readVersion, actions, cdcRecords)
}

// MergeMatch reports whether existing (a live row) corresponds to
// incoming (a row from the merge source).
type MergeMatch func(existing, incoming schema.Row) bool

// MergeOnMatch resolves a matched pair; keep=false deletes existing.
type MergeOnMatch func(existing, incoming schema.Row) (row schema.Row, keep bool)

// MergeOnMiss resolves an incoming row with no match; insert=false drops it.
type MergeOnMiss func(incoming schema.Row) (row schema.Row, insert bool)

// Merge reconciles incoming against the live table using match to pair
// rows, onMatch to resolve pairs, and onMiss to resolve unmatched
// incoming rows (spec §4.6 "merge(source, matchCondition, actions)").
func (t *Table) Merge(ctx context.Context, incoming []schema.Row, match MergeMatch, onMatch MergeOnMatch, onMiss MergeOnMiss) error {
	t.mu.Lock()
	snap := t.snap
	mapping := t.mapping
	cfg := t.config
	workingSchema := t.schema
	t.mu.Unlock()

	consumed := make([]bool, len(incoming))
	var removePaths []string
	var adds []*txlog.AddFile
	var cdcRecords []cdc.Record
	nowNs := time.Now().UnixNano()

	for _, path := range snap.SortedPaths() {
		add := snap.Files[path]
		rows, err := t.readLogicalRows(ctx, add)
		if err != nil {
			return err
		}

		changedFile := false
		kept := make([]schema.Row, 0, len(rows))
		for _, row := range rows {
			matchedIdx := -1
			for i, inc := range incoming {
				if consumed[i] {
					continue
				}
				if match(row, inc) {
					matchedIdx = i
					break
				}
			}
			if matchedIdx == -1 {
				kept = append(kept, row)
				continue
			}
			consumed[matchedIdx] = true
			changedFile = true
			newRow, keep := onMatch(row, incoming[matchedIdx])
			if !keep {
				if cfg.EnableChangeDataFeed {
					cdcRecords = append(cdcRecords, cdc.Record{
						ID: row["_id"], Op: cdc.OpDelete, ChangeType: cdc.ChangeDelete,
						Before: row, TimestampNs: nowNs, Source: t.cdcProducer.ID(),
					})
				}
				continue
			}
			if err := schema.Reconcile(&workingSchema, newRow); err != nil {
				return deltaerr.NewValidationError("row", newRow, err.Error())
			}
			if cfg.EnableChangeDataFeed {
				cdcRecords = append(cdcRecords,
					cdc.Record{ID: row["_id"], Op: cdc.OpUpdate, ChangeType: cdc.ChangeUpdatePreimage, Before: row, TimestampNs: nowNs, Source: t.cdcProducer.ID()},
					cdc.Record{ID: newRow["_id"], Op: cdc.OpUpdate, ChangeType: cdc.ChangeUpdatePostimage, After: newRow, TimestampNs: nowNs, Source: t.cdcProducer.ID()},
				)
			}
			kept = append(kept, newRow)
		}

		if !changedFile {
			continue
		}
		removePaths = append(removePaths, path)
		if len(kept) > 0 {
			physicalRows := make([]schema.Row, len(kept))
			for i, row := range kept {
				physicalRows[i] = mapping.RowToPhysical(row)
			}
			newAdd, err := t.writeDataFile(ctx, physicalRows, add.PartitionValues)
			if err != nil {
				return err
			}
			adds = append(adds, newAdd)
		}
	}

	var inserted []schema.Row
	for i, inc := range incoming {
		if consumed[i] {
			continue
		}
		newRow, insert := onMiss(inc)
		if !insert {
			continue
		}
		if err := schema.Reconcile(&workingSchema, newRow); err != nil {
			return deltaerr.NewValidationError("row", newRow, err.Error())
		}
		inserted = append(inserted, newRow)
		if cfg.EnableChangeDataFeed {
			cdcRecords = append(cdcRecords, cdc.Record{
				ID: newRow["_id"], Op: cdc.OpCreate, ChangeType: cdc.ChangeInsert,
				After: newRow, TimestampNs: nowNs, Source: t.cdcProducer.ID(),
			})
		}
	}
	if len(inserted) > 0 {
		pv := extractPartitionValues(inserted[0], cfg.PartitionColumns)
		physicalRows := make([]schema.Row, len(inserted))
		for i, row := range inserted {
			physicalRows[i] = mapping.RowToPhysical(row)
		}
		newAdd, err := t.writeDataFile(ctx, physicalRows, pv)
		if err != nil {
			return err
		}
		adds = append(adds, newAdd)
	}

	if len(removePaths) == 0 && len(adds) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	actions := make([]txlog.Action, 0, len(removePaths)+len(adds)+1)
	for _, p := range removePaths {
		actions = append(actions, txlog.Action{Remove: &txlog.RemoveFile{Path: p, DeletionTimestamp: now, DataChange: true}})
	}
	for _, a := range adds {
		actions = append(actions, txlog.Action{Add: a})
	}
	readVersion := snap.Version
	actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfoAction{
		Timestamp: now, Operation: "MERGE", TxnID: txlog.NewTxnID(), ReadVersion: &readVersion,
	}})

	return t.finalizeCommit(ctx, readVersion, actions, cdcRecords)
}

// --- Change data feed ---

// Changes returns CDC records for commits in [fromVersion, toVersion]
// (spec §4.9), failing with a CDCError if change data feed is disabled.
func (t *Table) Changes(ctx context.Context, fromVersion, toVersion int64) ([]cdc.Record, error) {
	t.mu.Lock()
	enabled := t.config.EnableChangeDataFeed
	t.mu.Unlock()
	if !enabled {
		return nil, deltaerr.NewCDCError(deltaerr.CDCNotEnabled, "change data feed is not enabled for this table", nil)
	}
	r := cdc.NewReader(t.codec, t.backend)
	return r.ReadByVersion(ctx, t.tablePath, fromVersion, toVersion)
}

// --- Maintenance operators (satisfy scheduler.Target) ---

// Compact merges small live files into larger ones via bin-packing,
// retrying on transient commit conflicts since maintenance runs are
// background jobs, unlike foreground Write/Update/Delete calls which
// surface ConcurrencyError directly to the caller.
func (t *Table) Compact(ctx context.Context) error {
	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		t.mu.Lock()
		snap := t.snap
		t.mu.Unlock()
		_, res, err := maintenance.Compact(ctx, t.maintenanceDeps(), snap, maintenance.CompactOptions{
			TargetBytes: 128 * 1024 * 1024,
			Strategy:    maintenance.StrategyBinPacking,
		})
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		return t.reloadAfterMaintenance(ctx, res.Version)
	})
}

// Vacuum deletes data files removed before the table's configured
// retention window and no longer live in any retained snapshot.
func (t *Table) Vacuum(ctx context.Context) error {
	t.mu.Lock()
	version := t.snap.Version
	retention := t.config.VacuumRetention
	t.mu.Unlock()
	_, err := maintenance.Vacuum(ctx, t.maintenanceDeps(), version, maintenance.VacuumOptions{RetentionDuration: retention})
	return err
}

// Checkpoint materializes the current snapshot as a columnar
// checkpoint file and updates `_last_checkpoint`.
func (t *Table) Checkpoint(ctx context.Context) error {
	t.mu.Lock()
	snap := t.snap
	t.mu.Unlock()
	return txlog.WriteCheckpoint(ctx, t.backend, t.codec, t.tablePath, snap.Version, actionsFromSnapshot(snap), txlog.CheckpointOptions{})
}

// Dedup removes duplicate rows per opts in a single commit.
func (t *Table) Dedup(ctx context.Context, opts maintenance.DedupOptions) error {
	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		t.mu.Lock()
		snap := t.snap
		t.mu.Unlock()
		res, err := maintenance.Dedup(ctx, t.maintenanceDeps(), snap, opts)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		return t.reloadAfterMaintenance(ctx, res.Version)
	})
}

// ZOrder rewrites live files clustered by opts.Columns for improved
// zone-map selectivity.
func (t *Table) ZOrder(ctx context.Context, opts maintenance.ZOrderOptions) (*maintenance.ZOrderStats, error) {
	var stats *maintenance.ZOrderStats
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		t.mu.Lock()
		snap := t.snap
		t.mu.Unlock()
		var res *txlog.CommitResult
		var err error
		stats, res, err = maintenance.ZOrder(ctx, t.maintenanceDeps(), snap, opts)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		return t.reloadAfterMaintenance(ctx, res.Version)
	})
	return stats, err
}

func (t *Table) reloadAfterMaintenance(ctx context.Context, version int64) error {
	newSnap, err := snapshot.Build(ctx, t.backend, t.codec, t.tablePath, version)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshFromSnapshotLocked(newSnap)
}

// --- Compaction context (spec §4.6 "getCompactionContext()") ---

// CompactionContext is the narrow capability object a custom
// maintenance routine (one not already covered by Compact/Dedup/
// ZOrder) needs: raw file access, an in-memory row cache across
// repeated reads of the same file, and a commit primitive, without
// exposing the whole Table surface.
type CompactionContext struct {
	t *Table
}

// CompactionContext returns a capability object bound to t.
func (t *Table) CompactionContext() *CompactionContext {
	return &CompactionContext{t: t}
}

// TablePath returns the owning table's root path.
func (c *CompactionContext) TablePath() string { return c.t.tablePath }

// Version returns the owning table's cached version.
func (c *CompactionContext) Version() int64 { return c.t.Version() }

// Snapshot proxies Table.Snapshot.
func (c *CompactionContext) Snapshot(ctx context.Context, version *int64) (*snapshot.Snapshot, error) {
	return c.t.Snapshot(ctx, version)
}

// QueryAll returns every live row, physical-to-logical translated.
func (c *CompactionContext) QueryAll(ctx context.Context) (*Rows, error) {
	return c.t.Query(ctx, nil, QueryOptions{})
}

// ReadFile decodes one data file's physical rows, bypassing deletion
// vectors and column-name translation (callers rewriting files need
// the raw physical contents).
func (c *CompactionContext) ReadFile(ctx context.Context, path string) ([]schema.Row, error) {
	c.t.mu.Lock()
	cached, ok := c.t.fileCache[path]
	c.t.mu.Unlock()
	if ok {
		return cached, nil
	}
	data, err := c.t.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	it, err := c.t.codec.Decode(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []schema.Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CacheFile stashes rows under path for later reuse within the same
// maintenance pass, avoiding a second decode of an already-read file.
func (c *CompactionContext) CacheFile(path string, rows []schema.Row) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if c.t.fileCache == nil {
		c.t.fileCache = map[string][]schema.Row{}
	}
	c.t.fileCache[path] = rows
}

// UncacheFile evicts path from the cache populated by CacheFile.
func (c *CompactionContext) UncacheFile(path string) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	delete(c.t.fileCache, path)
}

// Commit attempts a conditional commit of actions at the table's
// current read version and, on success, refreshes the cached snapshot.
func (c *CompactionContext) Commit(ctx context.Context, actions []txlog.Action) (*txlog.CommitResult, error) {
	c.t.mu.Lock()
	readVersion := c.t.snap.Version
	c.t.mu.Unlock()
	res, err := txlog.CommitAt(ctx, c.t.backend, c.t.tablePath, readVersion, actions)
	if err != nil {
		return nil, err
	}
	if err := c.t.reloadAfterMaintenance(ctx, res.Version); err != nil {
		return nil, err
	}
	return res, nil
}

// --- shared helpers ---

func extractPartitionValues(row schema.Row, cols []string) map[string]string {
	if len(cols) == 0 {
		return nil
	}
	pv := make(map[string]string, len(cols))
	for _, c := range cols {
		pv[c] = fmt.Sprint(row[c])
	}
	return pv
}

func partitionGroupKey(pv map[string]string) string {
	if len(pv) == 0 {
		return ""
	}
	keys := make([]string, 0, len(pv))
	for k := range pv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(pv[k])
		b.WriteString("/")
	}
	return b.String()
}

func addFileZoneMap(add *txlog.AddFile) []columnar.ZoneMapEntry {
	if add.Stats == nil {
		return nil
	}
	seen := map[string]bool{}
	for c := range add.Stats.MinValues {
		seen[c] = true
	}
	for c := range add.Stats.MaxValues {
		seen[c] = true
	}
	for c := range add.Stats.NullCount {
		seen[c] = true
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	out := make([]columnar.ZoneMapEntry, 0, len(cols))
	for _, c := range cols {
		out = append(out, columnar.ZoneMapEntry{
			Column: c, Min: add.Stats.MinValues[c], Max: add.Stats.MaxValues[c], NullCount: add.Stats.NullCount[c],
		})
	}
	return out
}

// assignColumnMappingMetadata stamps each field with the physical-name
// or field-id metadata columnmap.Build needs, per spec §6. Physical
// names are minted once at table creation and never change afterward.
func assignColumnMappingMetadata(sch *schema.Schema, mode columnmap.Mode) {
	if mode == columnmap.ModeNone {
		return
	}
	for i := range sch.Fields {
		switch mode {
		case columnmap.ModeName:
			sch.Fields[i].PhysicalName = fmt.Sprintf("col-%s", uuid.NewString())
		case columnmap.ModeID:
			sch.Fields[i].FieldID = int64(i + 1)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
