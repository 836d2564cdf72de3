// Package filter implements the MongoDB-style filter matching of spec
// §4.4, modeled per Design Notes §9 as a recursive tagged union rather
// than walking a raw map at evaluation time.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deltaforge/deltalake/internal/schema"
)

const (
	maxRegexInputLen   = 10 * 1024 // 10 KiB
	maxRegexPatternLen = 1024      // 1 KiB
)

// Filter is a parsed filter tree.
type Filter struct {
	// Logical is non-empty for $and/$or/$not/$nor nodes.
	Logical Op
	Clauses []Filter

	// Field is set for a leaf (field, predicate) node.
	Field     string
	Predicate Predicate

	// True marks the "matches everything" filter (no conditions).
	True bool
}

// Op enumerates the logical operators of spec §4.4.
type Op string

const (
	OpAnd Op = "$and"
	OpOr  Op = "$or"
	OpNot Op = "$not"
	OpNor Op = "$nor"
)

// PredKind enumerates the comparison operators of spec §4.4.
type PredKind string

const (
	PredEq     PredKind = "$eq"
	PredNe     PredKind = "$ne"
	PredGt     PredKind = "$gt"
	PredGte    PredKind = "$gte"
	PredLt     PredKind = "$lt"
	PredLte    PredKind = "$lte"
	PredIn     PredKind = "$in"
	PredNin    PredKind = "$nin"
	PredExists PredKind = "$exists"
	PredRegex  PredKind = "$regex"
)

// Predicate is the leaf comparison against one field's value.
type Predicate struct {
	Kind    PredKind
	Value   any
	Values  []any // for $in / $nin
	Exists  bool
	Pattern *regexp.Regexp
}

// Parse converts the loosely-typed wire form (nested map[string]any, as
// decoded from JSON or constructed directly) into a Filter tree.
// Unknown operator keys starting with "$" are silently dropped (spec §8
// boundary behavior).
func Parse(raw map[string]any) (Filter, error) {
	if len(raw) == 0 {
		return Filter{True: true}, nil
	}
	var clauses []Filter
	for key, val := range raw {
		switch Op(key) {
		case OpAnd, OpOr, OpNor:
			arr, ok := val.([]any)
			if !ok {
				return Filter{}, fmt.Errorf("filter: %s requires an array", key)
			}
			sub := make([]Filter, 0, len(arr))
			for _, item := range arr {
				m, ok := item.(map[string]any)
				if !ok {
					return Filter{}, fmt.Errorf("filter: %s entries must be objects", key)
				}
				f, err := Parse(m)
				if err != nil {
					return Filter{}, err
				}
				sub = append(sub, f)
			}
			clauses = append(clauses, Filter{Logical: Op(key), Clauses: sub})
		case OpNot:
			m, ok := val.(map[string]any)
			if !ok {
				return Filter{}, fmt.Errorf("filter: $not requires an object")
			}
			f, err := Parse(m)
			if err != nil {
				return Filter{}, err
			}
			clauses = append(clauses, Filter{Logical: OpNot, Clauses: []Filter{f}})
		default:
			if strings.HasPrefix(key, "$") {
				// Unknown top-level operator: silently ignored.
				continue
			}
			f, err := parseFieldClause(key, val)
			if err != nil {
				return Filter{}, err
			}
			clauses = append(clauses, f)
		}
	}
	if len(clauses) == 0 {
		return Filter{True: true}, nil
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return Filter{Logical: OpAnd, Clauses: clauses}, nil
}

func parseFieldClause(field string, val any) (Filter, error) {
	ops, ok := val.(map[string]any)
	if !ok {
		return Filter{Field: field, Predicate: Predicate{Kind: PredEq, Value: val}}, nil
	}
	isOpObject := false
	for k := range ops {
		if strings.HasPrefix(k, "$") {
			isOpObject = true
			break
		}
	}
	if !isOpObject {
		return Filter{Field: field, Predicate: Predicate{Kind: PredEq, Value: val}}, nil
	}

	var preds []Filter
	for k, v := range ops {
		switch PredKind(k) {
		case PredEq, PredNe, PredGt, PredGte, PredLt, PredLte:
			preds = append(preds, Filter{Field: field, Predicate: Predicate{Kind: PredKind(k), Value: v}})
		case PredIn, PredNin:
			arr, ok := v.([]any)
			if !ok {
				return Filter{}, fmt.Errorf("filter: %s requires an array", k)
			}
			preds = append(preds, Filter{Field: field, Predicate: Predicate{Kind: PredKind(k), Values: arr}})
		case PredExists:
			b, _ := v.(bool)
			preds = append(preds, Filter{Field: field, Predicate: Predicate{Kind: PredExists, Exists: b}})
		case PredRegex:
			pat, ok := v.(string)
			if !ok {
				return Filter{}, fmt.Errorf("filter: $regex requires a string")
			}
			if len(pat) > maxRegexPatternLen {
				return Filter{}, fmt.Errorf("filter: $regex pattern exceeds %d bytes", maxRegexPatternLen)
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				return Filter{}, fmt.Errorf("filter: invalid $regex pattern: %w", err)
			}
			preds = append(preds, Filter{Field: field, Predicate: Predicate{Kind: PredRegex, Pattern: re}})
		default:
			// Unknown operator key: silently ignored.
		}
	}
	if len(preds) == 0 {
		return Filter{True: true}, nil
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return Filter{Logical: OpAnd, Clauses: preds}, nil
}

// Match evaluates f against row, per spec §4.4 semantics.
func Match(f Filter, row schema.Row) bool {
	if f.True {
		return true
	}
	if f.Logical != "" {
		switch f.Logical {
		case OpAnd:
			for _, c := range f.Clauses {
				if !Match(c, row) {
					return false
				}
			}
			return true
		case OpOr:
			for _, c := range f.Clauses {
				if Match(c, row) {
					return true
				}
			}
			return false
		case OpNor:
			for _, c := range f.Clauses {
				if Match(c, row) {
					return false
				}
			}
			return true
		case OpNot:
			return !Match(f.Clauses[0], row)
		}
		return false
	}

	val, present := lookupPath(row, f.Field)
	return matchPredicate(f.Predicate, val, present)
}

func lookupPath(row schema.Row, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(row)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if rowMap, ok2 := cur.(schema.Row); ok2 {
				m = map[string]any(rowMap)
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

func matchPredicate(p Predicate, val any, present bool) bool {
	switch p.Kind {
	case PredExists:
		return present == p.Exists
	case PredEq:
		return present && valuesEqual(val, p.Value)
	case PredNe:
		return !present || !valuesEqual(val, p.Value)
	case PredGt:
		return present && orderable(val, p.Value) && compareOrdered(val, p.Value) > 0
	case PredGte:
		return present && orderable(val, p.Value) && compareOrdered(val, p.Value) >= 0
	case PredLt:
		return present && orderable(val, p.Value) && compareOrdered(val, p.Value) < 0
	case PredLte:
		return present && orderable(val, p.Value) && compareOrdered(val, p.Value) <= 0
	case PredIn:
		if !present {
			return false
		}
		for _, v := range p.Values {
			if valuesEqual(val, v) {
				return true
			}
		}
		return false
	case PredNin:
		if !present {
			return true
		}
		for _, v := range p.Values {
			if valuesEqual(val, v) {
				return false
			}
		}
		return true
	case PredRegex:
		s, ok := val.(string)
		if !present || !ok {
			return false
		}
		if len(s) > maxRegexInputLen {
			return false
		}
		return p.Pattern.MatchString(s)
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		return an == bn
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
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

// orderable reports whether a and b are both numbers, both strings, or
// both times: the only pairs the range operators match on, so a null or
// mismatched-type operand evaluates false for all of them.
func orderable(a, b any) bool {
	_, an := toFloat(a)
	_, bn := toFloat(b)
	_, as := a.(string)
	_, bs := b.(string)
	_, at := a.(time.Time)
	_, bt := b.(time.Time)
	return (an && bn) || (as && bs) || (at && bt)
}

// compareOrdered compares two comparable values (number, string, date);
// returns 0 when either side is nil/incomparable, so callers check
// orderable first.
func compareOrdered(a, b any) int {
	if a == nil || b == nil {
		return 0
	}
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
		return 0
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	return 0
}
