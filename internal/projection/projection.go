// Package projection implements spec §4.4 projections: inclusion and
// exclusion field-path selection over schema.Row documents, and the
// minimal-column-set computation the columnar reader consumes.
package projection

import "github.com/deltaforge/deltalake/internal/schema"

// Mode distinguishes inclusion ({"a":1,"b":1} / ["a","b"]) from
// exclusion ({"a":0,"b":0}) projections.
type Mode int

const (
	Include Mode = iota
	Exclude
)

// Projection is a parsed projection spec.
type Projection struct {
	Mode  Mode
	Paths []string // dot-separated, in the order they were given
}

// Parse builds a Projection from the wire forms spec §4.4 allows: an
// ordered list of paths (always inclusion), or a map from path to 0/1
// (mixing decides the mode from the first entry encountered — maps
// have no stable order in Go, so callers that need deterministic
// "first entry wins" behavior should use ParseOrdered instead).
func Parse(raw any) (Projection, error) {
	switch v := raw.(type) {
	case []string:
		return Projection{Mode: Include, Paths: append([]string(nil), v...)}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, p := range v {
			s, _ := p.(string)
			paths = append(paths, s)
		}
		return Projection{Mode: Include, Paths: paths}, nil
	case map[string]any:
		return parseMap(v)
	default:
		return Projection{}, nil
	}
}

// ParseOrdered is like Parse but takes explicit (path, flag) pairs so
// "the first entry's value decides the mode" is well defined, since
// map[string]any iteration order is not.
func ParseOrdered(pairs [][2]any) (Projection, error) {
	if len(pairs) == 0 {
		return Projection{Mode: Include}, nil
	}
	first, _ := pairs[0][1].(float64)
	mode := Include
	if first == 0 {
		mode = Exclude
	}
	paths := make([]string, 0, len(pairs))
	for _, pr := range pairs {
		path, _ := pr[0].(string)
		paths = append(paths, path)
	}
	return Projection{Mode: mode, Paths: paths}, nil
}

func parseMap(m map[string]any) (Projection, error) {
	pairs := make([][2]any, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, [2]any{k, v})
	}
	return ParseOrdered(pairs)
}

// Apply projects row per p's mode.
func Apply(p Projection, row schema.Row) schema.Row {
	switch p.Mode {
	case Exclude:
		return applyExclude(p.Paths, row)
	default:
		return applyInclude(p.Paths, row)
	}
}

func applyInclude(paths []string, row schema.Row) schema.Row {
	out := make(schema.Row)
	for _, path := range paths {
		v, ok := getPath(row, path)
		if !ok {
			continue
		}
		setPath(out, path, v)
	}
	return out
}

func applyExclude(paths []string, row schema.Row) schema.Row {
	out := row.Clone()
	for _, path := range paths {
		deletePath(out, path)
	}
	return out
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func getPath(row schema.Row, path string) (any, bool) {
	parts := splitPath(path)
	var cur any = map[string]any(row)
	for _, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func setPath(out schema.Row, path string, value any) {
	parts := splitPath(path)
	cur := map[string]any(out)
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
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

// deletePath removes path from out, cloning every intermediate parent
// object along the way so the caller's clone of sibling subtrees is
// never mutated in place.
func deletePath(out schema.Row, path string) {
	parts := splitPath(path)
	cur := map[string]any(out)
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		child, ok := cur[p]
		if !ok {
			return
		}
		childMap, ok := asMap(child)
		if !ok {
			return
		}
		cloned := make(map[string]any, len(childMap))
		for k, v := range childMap {
			cloned[k] = v
		}
		cur[p] = cloned
		cur = cloned
	}
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	if r, ok := v.(schema.Row); ok {
		return map[string]any(r), true
	}
	return nil, false
}

// MinimalColumns returns the set of top-level column names a columnar
// reader must materialize to satisfy p, deduplicated. For exclusion
// projections every column is needed except the excluded top-level
// ones cannot be determined without the full schema, so MinimalColumns
// returns nil (meaning "all columns") for Exclude projections.
func MinimalColumns(p Projection) []string {
	if p.Mode == Exclude {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, path := range p.Paths {
		top := splitPath(path)[0]
		if !seen[top] {
			seen[top] = true
			out = append(out, top)
		}
	}
	return out
}
