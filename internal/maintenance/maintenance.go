// Package maintenance implements the compaction, deduplication,
// Z-order clustering, and vacuum operators of spec §4.7, each
// expressed as a single atomic log commit of Remove+Add actions, per
// "any failure before the log commit leaves the table untouched."
// Bin-packing and grouping use github.com/samber/lo, matching the
// aggregate package's use of the same library for grouping work.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/logging"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/snapshot"
	"github.com/deltaforge/deltalake/internal/storage"
	"github.com/deltaforge/deltalake/internal/txlog"
)

// Deps bundles the collaborators every maintenance operator needs. Log
// is optional; a nil Log means operators run silently.
type Deps struct {
	Backend   storage.Backend
	Codec     columnar.Codec
	TablePath string
	Log       *logging.Logger
}

func newDataFilePath(tablePath string) string {
	return fmt.Sprintf("%s/part-%s.parquet", tablePath, uuid.NewString())
}

func readFileRows(ctx context.Context, d Deps, path string) ([]schema.Row, error) {
	data, err := d.Backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	it, err := d.Codec.Decode(ctx, data, nil)
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

// writeDataFile streams rows into one new file and returns its Add
// action, with stats aggregated across all row groups.
func writeDataFile(ctx context.Context, d Deps, rows []schema.Row, partitionValues map[string]string) (*txlog.AddFile, error) {
	w := columnar.NewWriter(d.Codec, columnar.DefaultWriterOptions(), nil)
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
	path := newDataFilePath(d.TablePath)
	if err := d.Backend.Write(ctx, path, file.Bytes); err != nil {
		return nil, err
	}

	stats := &txlog.FileStats{NumRecords: int64(len(rows))}
	if len(file.RowGroups) > 0 {
		stats.MinValues = map[string]any{}
		stats.MaxValues = map[string]any{}
		stats.NullCount = map[string]int64{}
		less := func(a, b any) bool {
			switch av := a.(type) {
			case string:
				return av < fmt.Sprint(b)
			case time.Time:
				bt, _ := b.(time.Time)
				return av.Before(bt)
			}
			return toFloat(a) < toFloat(b)
		}
		for _, rg := range file.RowGroups {
			for col, cs := range rg.Stats {
				if cur, ok := stats.MinValues[col]; !ok || cur == nil || (cs.Min != nil && less(cs.Min, cur)) {
					stats.MinValues[col] = cs.Min
				}
				if cur, ok := stats.MaxValues[col]; !ok || cur == nil || (cs.Max != nil && less(cur, cs.Max)) {
					stats.MaxValues[col] = cs.Max
				}
				stats.NullCount[col] += cs.NullCount
			}
		}
	}
	return &txlog.AddFile{
		Path:             path,
		PartitionValues:  partitionValues,
		Size:             int64(len(file.Bytes)),
		ModificationTime: time.Now().UnixMilli(),
		DataChange:       false, // maintenance rewrites don't change logical content
		Stats:            stats,
	}, nil
}

func commitMaintenance(ctx context.Context, d Deps, readVersion int64, operation string, removePaths []string, adds []*txlog.AddFile) (*txlog.CommitResult, error) {
	now := time.Now().UnixMilli()
	var actions []txlog.Action
	for _, p := range removePaths {
		actions = append(actions, txlog.Action{Remove: &txlog.RemoveFile{Path: p, DeletionTimestamp: now, DataChange: false}})
	}
	for _, a := range adds {
		actions = append(actions, txlog.Action{Add: a})
	}
	actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfoAction{
		Timestamp: now, Operation: operation, TxnID: txlog.NewTxnID(),
	}})
	return txlog.CommitAt(ctx, d.Backend, d.TablePath, readVersion, actions)
}

func partitionKey(pv map[string]string) string {
	if len(pv) == 0 {
		return ""
	}
	keys := make([]string, 0, len(pv))
	for k := range pv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + pv[k] + "/"
	}
	return s
}

// --- Compaction ---

// CompactStrategy enumerates the bin-selection strategies of spec §4.7.
type CompactStrategy string

const (
	StrategyBinPacking CompactStrategy = "bin-packing" // first-fit-decreasing
	StrategyGreedy      CompactStrategy = "greedy"      // largest-bin-first
	StrategySortBySize  CompactStrategy = "sort-by-size" // ascending, concatenate
)

// CompactOptions configures Compact.
type CompactOptions struct {
	TargetBytes     int64
	Strategy        CompactStrategy
	DryRun          bool
	VerifyIntegrity bool
}

// CompactPlan is the computed bin assignment, one entry per bin,
// never crossing partition boundaries.
type CompactPlan struct {
	Bins               [][]string // data file paths per bin
	EstimatedOutputSize []int64
}

// PlanCompaction groups each partition's live files into bins
// targeting opts.TargetBytes using the selected strategy.
func PlanCompaction(snap *snapshot.Snapshot, opts CompactOptions) CompactPlan {
	byPartition := lo.GroupBy(lo.Values(snap.Files), func(f *txlog.AddFile) string { return partitionKey(f.PartitionValues) })

	partKeys := lo.Keys(byPartition)
	sort.Strings(partKeys)

	plan := CompactPlan{}
	for _, pk := range partKeys {
		files := byPartition[pk]
		var bins [][]*txlog.AddFile
		switch opts.Strategy {
		case StrategyGreedy:
			bins = binGreedy(files, opts.TargetBytes)
		case StrategySortBySize:
			bins = binSortBySize(files, opts.TargetBytes)
		default:
			bins = binFirstFitDecreasing(files, opts.TargetBytes)
		}
		for _, bin := range bins {
			if len(bin) < 2 {
				continue // nothing to compact
			}
			paths := lo.Map(bin, func(f *txlog.AddFile, _ int) string { return f.Path })
			size := lo.SumBy(bin, func(f *txlog.AddFile) int64 { return f.Size })
			plan.Bins = append(plan.Bins, paths)
			plan.EstimatedOutputSize = append(plan.EstimatedOutputSize, size)
		}
	}
	return plan
}

func binFirstFitDecreasing(files []*txlog.AddFile, target int64) [][]*txlog.AddFile {
	sorted := append([]*txlog.AddFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
	var bins [][]*txlog.AddFile
	var binSizes []int64
	for _, f := range sorted {
		placed := false
		for i := range bins {
			if binSizes[i]+f.Size <= target {
				bins[i] = append(bins[i], f)
				binSizes[i] += f.Size
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, []*txlog.AddFile{f})
			binSizes = append(binSizes, f.Size)
		}
	}
	return bins
}

func binGreedy(files []*txlog.AddFile, target int64) [][]*txlog.AddFile {
	sorted := append([]*txlog.AddFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
	var bins [][]*txlog.AddFile
	var cur []*txlog.AddFile
	var curSize int64
	for _, f := range sorted {
		cur = append(cur, f)
		curSize += f.Size
		if curSize >= target {
			bins = append(bins, cur)
			cur = nil
			curSize = 0
		}
	}
	if len(cur) > 0 {
		bins = append(bins, cur)
	}
	return bins
}

func binSortBySize(files []*txlog.AddFile, target int64) [][]*txlog.AddFile {
	sorted := append([]*txlog.AddFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })
	var bins [][]*txlog.AddFile
	var cur []*txlog.AddFile
	var curSize int64
	for _, f := range sorted {
		cur = append(cur, f)
		curSize += f.Size
		if curSize >= target {
			bins = append(bins, cur)
			cur = nil
			curSize = 0
		}
	}
	if len(cur) > 0 {
		bins = append(bins, cur)
	}
	return bins
}

// Compact executes the compaction plan: for each bin, reads all rows,
// writes one new file, and commits Remove(inputs)+Add(output) as a
// single atomic commit. With opts.DryRun, only the plan is returned.
func Compact(ctx context.Context, d Deps, snap *snapshot.Snapshot, opts CompactOptions) (*CompactPlan, *txlog.CommitResult, error) {
	plan := PlanCompaction(snap, opts)
	if opts.DryRun || len(plan.Bins) == 0 {
		return &plan, nil, nil
	}

	var removePaths []string
	var adds []*txlog.AddFile
	for _, bin := range plan.Bins {
		var rows []schema.Row
		var pv map[string]string
		for _, path := range bin {
			f := snap.Files[path]
			if f != nil {
				pv = f.PartitionValues
			}
			fileRows, err := readFileRows(ctx, d, path)
			if err != nil {
				return &plan, nil, err
			}
			rows = append(rows, fileRows...)
		}
		add, err := writeDataFile(ctx, d, rows, pv)
		if err != nil {
			return &plan, nil, err
		}
		if opts.VerifyIntegrity {
			roundTrip, err := readFileRows(ctx, d, add.Path)
			if err != nil {
				return &plan, nil, err
			}
			if !isPermutationEquivalent(rows, roundTrip) {
				return &plan, nil, deltaerr.NewValidationError("compaction", add.Path, "rewritten file is not permutation-equivalent to its inputs")
			}
		}
		removePaths = append(removePaths, bin...)
		adds = append(adds, add)
	}

	res, err := commitMaintenance(ctx, d, snap.Version, "COMPACTION", removePaths, adds)
	if err == nil && res != nil {
		var totalBytes int64
		for _, a := range adds {
			totalBytes += a.Size
		}
		d.Log.Infof("compaction: merged %d files into %d bins totaling %s, new version %d",
			len(removePaths), len(plan.Bins), humanize.Bytes(uint64(totalBytes)), res.Version)
	}
	return &plan, res, err
}

func isPermutationEquivalent(a, b []schema.Row) bool {
	if len(a) != len(b) {
		return false
	}
	toMultiset := func(rows []schema.Row) map[string]int {
		m := make(map[string]int, len(rows))
		for _, r := range rows {
			m[fmt.Sprint(r)]++
		}
		return m
	}
	ma, mb := toMultiset(a), toMultiset(b)
	if len(ma) != len(mb) {
		return false
	}
	for k, v := range ma {
		if mb[k] != v {
			return false
		}
	}
	return true
}

// --- Deduplication ---

// KeepStrategy selects the survivor within a primary-key group.
type KeepStrategy string

const (
	KeepLatest KeepStrategy = "latest"
	KeepFirst  KeepStrategy = "first"
)

// DedupMode selects the duplicate-detection rule.
type DedupMode string

const (
	DedupPrimaryKey     DedupMode = "primary-key"
	DedupExactDuplicate DedupMode = "exact-duplicate"
)

// DedupOptions configures Dedup.
type DedupOptions struct {
	Mode          DedupMode
	Key           []string // field paths, for DedupPrimaryKey
	KeepStrategy  KeepStrategy
	OrderByColumn string // required when KeepStrategy == KeepLatest
}

// Dedup reads every live file, removes duplicate rows per opts, and
// commits Remove(all inputs)+Add(one rewritten file).
func Dedup(ctx context.Context, d Deps, snap *snapshot.Snapshot, opts DedupOptions) (*txlog.CommitResult, error) {
	if opts.Mode == DedupPrimaryKey && opts.KeepStrategy == KeepLatest && opts.OrderByColumn == "" {
		return nil, deltaerr.NewValidationError("orderByColumn", nil, "keepStrategy=latest requires an orderByColumn")
	}

	paths := snap.SortedPaths()
	var allRows []schema.Row
	for _, p := range paths {
		rows, err := readFileRows(ctx, d, p)
		if err != nil {
			return nil, err
		}
		allRows = append(allRows, rows...)
	}
	if len(allRows) == 0 {
		return nil, nil
	}

	var survivors []schema.Row
	switch opts.Mode {
	case DedupExactDuplicate:
		survivors = dedupExact(allRows)
	default:
		survivors = dedupPrimaryKey(allRows, opts)
	}

	add, err := writeDataFile(ctx, d, survivors, nil)
	if err != nil {
		return nil, err
	}
	return commitMaintenance(ctx, d, snap.Version, "DEDUPLICATE", paths, []*txlog.AddFile{add})
}

func dedupExact(rows []schema.Row) []schema.Row {
	seen := make(map[string]bool, len(rows))
	var out []schema.Row
	for _, r := range rows {
		key := fmt.Sprint(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func dedupPrimaryKey(rows []schema.Row, opts DedupOptions) []schema.Row {
	groups := lo.GroupBy(rows, func(r schema.Row) string {
		key := ""
		for _, k := range opts.Key {
			key += fmt.Sprint(r[k]) + "\x00"
		}
		return key
	})
	keys := lo.Keys(groups)
	sort.Strings(keys)

	out := make([]schema.Row, 0, len(groups))
	for _, k := range keys {
		members := groups[k]
		if opts.KeepStrategy == KeepLatest {
			best := members[0]
			for _, m := range members[1:] {
				if toFloat(m[opts.OrderByColumn]) > toFloat(best[opts.OrderByColumn]) {
					best = m
				}
			}
			out = append(out, best)
		} else {
			out = append(out, members[0])
		}
	}
	return out
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

// --- Z-order clustering ---

// ZOrderOptions configures ZOrder.
type ZOrderOptions struct {
	Columns     []string
	CurveType   string // "" / "linear" or "hilbert"
	TargetBytes int64
	DryRun      bool
}

// ZOrderStats summarizes the computed clustering for dryRun callers.
type ZOrderStats struct {
	RowCount    int
	OutputFiles int
}

// ZOrder rewrites every live file in snap, across all partitions,
// sorted by an interleaved Z-order key so each output file covers a
// contiguous key range, improving zone-map selectivity for subsequent
// multi-column range queries (spec §4.7). The output files carry no
// partition values.
func ZOrder(ctx context.Context, d Deps, snap *snapshot.Snapshot, opts ZOrderOptions) (*ZOrderStats, *txlog.CommitResult, error) {
	paths := snap.SortedPaths()
	var allRows []schema.Row
	for _, p := range paths {
		rows, err := readFileRows(ctx, d, p)
		if err != nil {
			return nil, nil, err
		}
		allRows = append(allRows, rows...)
	}
	stats := &ZOrderStats{RowCount: len(allRows)}
	if len(allRows) == 0 {
		return stats, nil, nil
	}

	keys := make([]uint64, len(allRows))
	for i, r := range allRows {
		keys[i] = zOrderKey(r, opts.Columns, opts.CurveType == "hilbert")
	}
	idx := make([]int, len(allRows))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	sortedRows := make([]schema.Row, len(allRows))
	for i, j := range idx {
		sortedRows[i] = allRows[j]
	}

	target := opts.TargetBytes
	if target <= 0 {
		target = 128 * 1024 * 1024
	}
	chunks := chunkByEstimatedSize(sortedRows, target)
	stats.OutputFiles = len(chunks)
	if opts.DryRun {
		return stats, nil, nil
	}

	var adds []*txlog.AddFile
	for _, chunk := range chunks {
		add, err := writeDataFile(ctx, d, chunk, nil)
		if err != nil {
			return stats, nil, err
		}
		adds = append(adds, add)
	}
	res, err := commitMaintenance(ctx, d, snap.Version, "ZORDER", paths, adds)
	return stats, res, err
}

func chunkByEstimatedSize(rows []schema.Row, targetBytes int64) [][]schema.Row {
	var chunks [][]schema.Row
	var cur []schema.Row
	var curBytes int64
	for _, r := range rows {
		cur = append(cur, r)
		curBytes += estimateRowBytes(r)
		if curBytes >= targetBytes {
			chunks = append(chunks, cur)
			cur = nil
			curBytes = 0
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	if len(chunks) == 0 {
		chunks = [][]schema.Row{rows}
	}
	return chunks
}

func estimateRowBytes(r schema.Row) int64 {
	n := int64(0)
	for k, v := range r {
		n += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			n += int64(len(s))
		}
	}
	return n
}

// zOrderKey interleaves the bit representations of each column's
// normalized value into one combined sort key. normalizeToUint32 maps
// numbers and strings onto a fixed 32-bit range; interleaving spreads
// each column's bits across the combined key so that sorting by the
// combined key clusters rows that are close in every column
// simultaneously, not just the first one.
func zOrderKey(row schema.Row, columns []string, hilbert bool) uint64 {
	if len(columns) == 0 {
		return 0
	}
	n := len(columns)
	if n > 2 {
		n = 2 // bit budget below only supports interleaving two 32-bit columns into 64 bits
	}
	vals := make([]uint32, n)
	for i := 0; i < n; i++ {
		vals[i] = normalizeToUint32(row[columns[i]])
	}
	if n == 1 {
		return uint64(vals[0])
	}
	if hilbert {
		return hilbertD2XY(vals[0], vals[1])
	}
	return interleave2(vals[0], vals[1])
}

func normalizeToUint32(v any) uint32 {
	switch x := v.(type) {
	case int:
		return uint32(int64(x) + (1 << 31))
	case int32:
		return uint32(int64(x) + (1 << 31))
	case int64:
		return uint32((x + (1 << 31)) & 0xFFFFFFFF)
	case float64:
		if x < 0 {
			return 0
		}
		if x > 4294967295 {
			return 0xFFFFFFFF
		}
		return uint32(x)
	case string:
		var h uint32
		for i := 0; i < len(x) && i < 4; i++ {
			h = h<<8 | uint32(x[i])
		}
		return h
	default:
		return 0
	}
}

// interleave2 bit-interleaves two 32-bit values into a 64-bit Morton
// code.
func interleave2(a, b uint32) uint64 {
	spread := func(x uint32) uint64 {
		v := uint64(x)
		v = (v | (v << 16)) & 0x0000FFFF0000FFFF
		v = (v | (v << 8)) & 0x00FF00FF00FF00FF
		v = (v | (v << 4)) & 0x0F0F0F0F0F0F0F0F
		v = (v | (v << 2)) & 0x3333333333333333
		v = (v | (v << 1)) & 0x5555555555555555
		return v
	}
	return spread(a) | (spread(b) << 1)
}

// hilbertD2XY maps (x,y) on a 16-bit-per-axis grid to its distance
// along a Hilbert curve, the `curveType='hilbert'` option of spec §4.7.
func hilbertD2XY(x, y uint32) uint64 {
	const order = 16
	x &= 0xFFFF
	y &= 0xFFFF
	var rx, ry uint32
	var d uint64
	for s := uint32(1) << (order - 1); s > 0; s >>= 1 {
		if x&s > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if y&s > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		// rotate
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// --- Vacuum ---

// VacuumOptions configures Vacuum.
type VacuumOptions struct {
	RetentionDuration time.Duration
	DryRun            bool
	Now               time.Time // zero means time.Now()
}

// Vacuum deletes data files referenced only by Removes older than the
// retention horizon, never touching any path still live in the
// current snapshot (spec §4.7).
func Vacuum(ctx context.Context, d Deps, currentVersion int64, opts VacuumOptions) ([]string, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	horizonMs := now.Add(-opts.RetentionDuration).UnixMilli()

	snap, err := snapshot.Build(ctx, d.Backend, d.Codec, d.TablePath, currentVersion)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(snap.Files))
	for p := range snap.Files {
		live[p] = true
	}

	versions, err := txlog.ListCommitVersions(ctx, d.Backend, d.TablePath, currentVersion)
	if err != nil {
		return nil, err
	}

	eligible := map[string]bool{}
	for _, v := range versions {
		commit, err := txlog.ReadCommit(ctx, d.Backend, d.TablePath, v)
		if err != nil {
			return nil, err
		}
		for _, a := range commit.Actions {
			if a.Remove == nil {
				continue
			}
			if a.Remove.DeletionTimestamp > horizonMs {
				continue
			}
			if live[a.Remove.Path] {
				continue
			}
			eligible[a.Remove.Path] = true
		}
	}

	paths := lo.Keys(eligible)
	sort.Strings(paths)
	if opts.DryRun {
		d.Log.Infof("vacuum dry run: %d files eligible, retention %s before %s", len(paths), opts.RetentionDuration, humanize.Time(time.UnixMilli(horizonMs)))
		return paths, nil
	}
	for _, p := range paths {
		if err := d.Backend.Delete(ctx, p); err != nil {
			return nil, err
		}
	}
	d.Log.Infof("vacuum: deleted %d files older than %s", len(paths), humanize.Time(time.UnixMilli(horizonMs)))
	return paths, nil
}
