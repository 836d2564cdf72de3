// Package aggregate implements the in-memory aggregation pipeline of
// spec §4.4: $match, $group, $project, $sort, $limit, $skip, $unwind
// over an in-memory row set, built on samber/lo for the group/map/
// filter combinators and golang.org/x/text/collate for locale-aware
// string ordering in $sort.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/deltaforge/deltalake/internal/filter"
	"github.com/deltaforge/deltalake/internal/projection"
	"github.com/deltaforge/deltalake/internal/schema"
)

// StageKind enumerates the pipeline stage operators.
type StageKind string

const (
	StageMatch   StageKind = "$match"
	StageGroup   StageKind = "$group"
	StageProject StageKind = "$project"
	StageSort    StageKind = "$sort"
	StageLimit   StageKind = "$limit"
	StageSkip    StageKind = "$skip"
	StageUnwind  StageKind = "$unwind"
)

// Accumulator enumerates $group accumulator operators.
type Accumulator string

const (
	AccSum        Accumulator = "$sum"
	AccAvg        Accumulator = "$avg"
	AccMin        Accumulator = "$min"
	AccMax        Accumulator = "$max"
	AccFirst      Accumulator = "$first"
	AccLast       Accumulator = "$last"
	AccPush       Accumulator = "$push"
	AccAddToSet   Accumulator = "$addToSet"
	AccCount      Accumulator = "$count"
	AccStdDevPop  Accumulator = "$stdDevPop"
	AccStdDevSamp Accumulator = "$stdDevSamp"
)

// Stage is one pipeline step.
type Stage struct {
	Kind StageKind

	// $match
	Match filter.Filter

	// $group
	GroupKey  map[string]string // output field -> "$fieldPath" reference, or a single "_id" -> ref
	GroupKeys map[string]string // compound key: output subfield -> "$fieldPath"
	Accums    map[string]GroupAccum

	// $project
	Project projection.Projection

	// $sort: ordered to preserve multi-key tie-break determinism
	SortKeys []SortKey

	// $limit / $skip
	N int

	// $unwind
	UnwindField               string
	PreserveNullAndEmptyArrays bool
}

// GroupAccum is one accumulator applied within a $group stage.
type GroupAccum struct {
	Op    Accumulator
	Field string // "$fieldPath", empty for $count
}

// SortKey is one field of a (possibly multi-key) $sort stage.
type SortKey struct {
	Field      string
	Descending bool
}

// Result is the pipeline's return contract (spec §4.4: "the output
// documents plus {documentsProcessed, groupsCreated?, executionTimeMs}").
// ExecutionTimeMs is left to the caller to stamp, since this package
// must not call a wall-clock source during deterministic replay paths.
type Result struct {
	Documents         []schema.Row
	DocumentsProcessed int
	GroupsCreated      *int
}

var stringCollator = collate.New(language.Und)

// Run executes stages over rows in order.
func Run(rows []schema.Row, stages []Stage) (Result, error) {
	cur := rows
	processed := len(rows)
	var groupsCreated *int

	for _, st := range stages {
		var err error
		switch st.Kind {
		case StageMatch:
			cur = lo.Filter(cur, func(r schema.Row, _ int) bool { return filter.Match(st.Match, r) })
		case StageGroup:
			cur, err = runGroup(cur, st)
			if err == nil {
				n := len(cur)
				groupsCreated = &n
			}
		case StageProject:
			cur = lo.Map(cur, func(r schema.Row, _ int) schema.Row { return projection.Apply(st.Project, r) })
		case StageSort:
			cur = runSort(cur, st.SortKeys)
		case StageLimit:
			if st.N < len(cur) {
				cur = cur[:st.N]
			}
		case StageSkip:
			if st.N < len(cur) {
				cur = cur[st.N:]
			} else {
				cur = nil
			}
		case StageUnwind:
			cur = runUnwind(cur, st)
		default:
			err = fmt.Errorf("aggregate: unknown stage %q", st.Kind)
		}
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Documents: cur, DocumentsProcessed: processed, GroupsCreated: groupsCreated}, nil
}

func fieldRef(ref string) string {
	return strings.TrimPrefix(ref, "$")
}

func lookupField(row schema.Row, ref string) (any, bool) {
	path := fieldRef(ref)
	parts := strings.Split(path, ".")
	var cur any = map[string]any(row)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if r, ok2 := cur.(schema.Row); ok2 {
				m = map[string]any(r)
			} else {
				return nil, false
			}
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func groupKeyValue(row schema.Row, st Stage) any {
	if len(st.GroupKeys) > 0 {
		compound := make(map[string]any, len(st.GroupKeys))
		for out, ref := range st.GroupKeys {
			v, _ := lookupField(row, ref)
			compound[out] = v
		}
		return fmt.Sprint(compound)
	}
	if ref, ok := st.GroupKey["_id"]; ok {
		v, _ := lookupField(row, ref)
		return v
	}
	return nil
}

func runGroup(rows []schema.Row, st Stage) ([]schema.Row, error) {
	groups := lo.GroupBy(rows, func(r schema.Row) any { return groupKeyValue(r, st) })

	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })

	out := make([]schema.Row, 0, len(groups))
	for _, k := range keys {
		members := groups[k]
		result := schema.Row{}
		if len(st.GroupKeys) > 0 {
			compound := make(map[string]any, len(st.GroupKeys))
			for out := range st.GroupKeys {
				v, _ := lookupField(members[0], st.GroupKeys[out])
				compound[out] = v
			}
			result["_id"] = compound
		} else if ref, ok := st.GroupKey["_id"]; ok {
			v, _ := lookupField(members[0], ref)
			result["_id"] = v
		}
		for field, acc := range st.Accums {
			result[field] = applyAccum(acc, members)
		}
		out = append(out, result)
	}
	return out, nil
}

func applyAccum(acc GroupAccum, members []schema.Row) any {
	switch acc.Op {
	case AccCount:
		return int64(len(members))
	case AccSum:
		sum := 0.0
		for _, m := range members {
			if v, ok := lookupField(m, acc.Field); ok {
				sum += toFloat(v)
			}
		}
		return sum
	case AccAvg:
		if len(members) == 0 {
			return nil
		}
		sum := 0.0
		n := 0
		for _, m := range members {
			if v, ok := lookupField(m, acc.Field); ok {
				sum += toFloat(v)
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case AccMin:
		var min any
		for _, m := range members {
			if v, ok := lookupField(m, acc.Field); ok {
				if min == nil || toFloat(v) < toFloat(min) {
					min = v
				}
			}
		}
		return min
	case AccMax:
		var max any
		for _, m := range members {
			if v, ok := lookupField(m, acc.Field); ok {
				if max == nil || toFloat(v) > toFloat(max) {
					max = v
				}
			}
		}
		return max
	case AccFirst:
		if len(members) == 0 {
			return nil
		}
		v, _ := lookupField(members[0], acc.Field)
		return v
	case AccLast:
		if len(members) == 0 {
			return nil
		}
		v, _ := lookupField(members[len(members)-1], acc.Field)
		return v
	case AccPush:
		return lo.Map(members, func(m schema.Row, _ int) any {
			v, _ := lookupField(m, acc.Field)
			return v
		})
	case AccAddToSet:
		vals := lo.Map(members, func(m schema.Row, _ int) any {
			v, _ := lookupField(m, acc.Field)
			return v
		})
		return lo.UniqBy(vals, func(v any) string { return fmt.Sprint(v) })
	case AccStdDevPop, AccStdDevSamp:
		return stdDev(members, acc.Field, acc.Op == AccStdDevSamp)
	default:
		return nil
	}
}

func stdDev(members []schema.Row, field string, sample bool) any {
	var vals []float64
	for _, m := range members {
		if v, ok := lookupField(m, field); ok {
			vals = append(vals, toFloat(v))
		}
	}
	n := len(vals)
	if n == 0 || (sample && n < 2) {
		return nil
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(n)
	sq := 0.0
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	denom := float64(n)
	if sample {
		denom = float64(n - 1)
	}
	return math.Sqrt(sq / denom)
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

// runSort performs a stable, multi-key sort with insertion-order
// tie-breaking (sort.SliceStable preserves the incoming order for
// equal keys, which is the incoming sequence on first call).
func runSort(rows []schema.Row, keys []SortKey) []schema.Row {
	out := append([]schema.Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			vi, oki := lookupField(out[i], k.Field)
			vj, okj := lookupField(out[j], k.Field)
			c := compareSortValues(vi, oki, vj, okj)
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

// compareSortValues returns <0, 0, >0; nulls/missing sort less than
// any value regardless of direction (spec: "nulls sort less-than any
// value in ascending order").
func compareSortValues(a any, aok bool, b any, bok bool) int {
	aNull := !aok || a == nil
	bNull := !bok || b == nil
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return stringCollator.CompareString(as, bs)
		}
	}
	af, aIsNum := toFloatOK(a)
	bf, bIsNum := toFloatOK(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloatOK(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func runUnwind(rows []schema.Row, st Stage) []schema.Row {
	var out []schema.Row
	for _, row := range rows {
		v, ok := lookupField(row, "$"+st.UnwindField)
		arr, isArr := v.([]any)
		if !ok || !isArr || len(arr) == 0 {
			if st.PreserveNullAndEmptyArrays {
				clone := row.Clone()
				setField(clone, st.UnwindField, nil)
				out = append(out, clone)
			}
			continue
		}
		for _, elem := range arr {
			clone := row.Clone()
			setField(clone, st.UnwindField, elem)
			out = append(out, clone)
		}
	}
	return out
}

func setField(row schema.Row, path string, v any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(row)
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = v
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
}
