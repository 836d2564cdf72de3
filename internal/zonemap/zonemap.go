// Package zonemap translates a filter.Filter into per-row-group prune
// decisions against the min/max zone maps columnar.Writer produces,
// per spec §4.2/§4.4 ("zone-map pruning").
package zonemap

import (
	"strings"

	"golang.org/x/exp/constraints"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/filter"
)

// CanSkip reports whether a row group can be skipped entirely given its
// zone map entries and a filter, i.e. no row in the group could ever
// match. It is conservative: any column or predicate kind it cannot
// reason about keeps the row group.
func CanSkip(f filter.Filter, entries []columnar.ZoneMapEntry) bool {
	byCol := make(map[string]columnar.ZoneMapEntry, len(entries))
	for _, e := range entries {
		byCol[e.Column] = e
	}
	return skip(f, byCol)
}

func skip(f filter.Filter, byCol map[string]columnar.ZoneMapEntry) bool {
	if f.True {
		return false
	}
	switch f.Logical {
	case filter.OpAnd:
		for _, c := range f.Clauses {
			if skip(c, byCol) {
				return true
			}
		}
		return false
	case filter.OpOr:
		for _, c := range f.Clauses {
			if !skip(c, byCol) {
				return false
			}
		}
		return len(f.Clauses) > 0
	case filter.OpNot, filter.OpNor:
		// Negation under pruning is unsound to generalize (skip(f) does
		// not imply keep(not f)); always conservatively keep.
		return false
	}

	if strings.Contains(f.Field, ".") {
		// Shredded variant sub-paths only have an entry when the writer
		// was configured to shred that path; absent entry => keep.
	}
	entry, ok := byCol[f.Field]
	if !ok {
		return false
	}
	return predicateExcludes(f.Predicate, entry)
}

func predicateExcludes(p filter.Predicate, e columnar.ZoneMapEntry) bool {
	if e.Min == nil || e.Max == nil {
		return false
	}
	switch p.Kind {
	case filter.PredEq:
		return cmp(p.Value, e.Min) < 0 || cmp(p.Value, e.Max) > 0
	case filter.PredGt:
		return cmp(e.Max, p.Value) <= 0
	case filter.PredGte:
		return cmp(e.Max, p.Value) < 0
	case filter.PredLt:
		return cmp(e.Min, p.Value) >= 0
	case filter.PredLte:
		return cmp(e.Min, p.Value) > 0
	case filter.PredIn:
		for _, v := range p.Values {
			if cmp(v, e.Min) >= 0 && cmp(v, e.Max) <= 0 {
				return false
			}
		}
		return len(p.Values) > 0
	default:
		return false
	}
}

// cmp returns <0, 0, >0 comparing a to b, or 0 (treated as "overlaps")
// when the pair is not comparable — matching Match's conservative
// stance on type mismatches.
func cmp(a, b any) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return ordered(af, bf)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return ordered(as, bs)
	}
	return 0
}

// ordered compares two values of any constraints.Ordered type,
// sparing every zone-map numeric/string comparison its own <, >, ==
// chain.
func ordered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
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
