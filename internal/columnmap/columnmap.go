// Package columnmap implements the physical/logical column name
// translation spec §6 describes for `delta.columnMapping.mode`: when
// set, physical names stored in data files differ from the logical
// schema names, and a per-field mapping derived from schema metadata
// translates between them.
package columnmap

import (
	"fmt"

	"github.com/deltaforge/deltalake/internal/schema"
)

// Mode enumerates `delta.columnMapping.mode` values.
type Mode string

const (
	ModeNone Mode = ""
	ModeName Mode = "name"
	ModeID   Mode = "id"
)

// Mapping translates between physical (on-disk) and logical
// (schema-visible) column names for one table schema snapshot.
type Mapping struct {
	Mode           Mode
	logicalToPhys  map[string]string
	physToLogical  map[string]string
}

// Build derives a Mapping from schema-field metadata entries
// `delta.columnMapping.physicalName` / `delta.columnMapping.id`, per
// spec §6. When mode is ModeNone, the mapping is the identity.
func Build(mode Mode, sch schema.Schema) (*Mapping, error) {
	m := &Mapping{Mode: mode, logicalToPhys: map[string]string{}, physToLogical: map[string]string{}}
	if mode == ModeNone {
		for _, f := range sch.Fields {
			m.logicalToPhys[f.Name] = f.Name
			m.physToLogical[f.Name] = f.Name
		}
		return m, nil
	}
	for _, f := range sch.Fields {
		physical := f.Name
		if mode == ModeName && f.PhysicalName != "" {
			physical = f.PhysicalName
		} else if mode == ModeID && f.FieldID != 0 {
			physical = fmt.Sprintf("col-%d", f.FieldID)
		}
		if existing, dup := m.physToLogical[physical]; dup && existing != f.Name {
			return nil, fmt.Errorf("columnmap: physical name %q maps to both %q and %q", physical, existing, f.Name)
		}
		m.logicalToPhys[f.Name] = physical
		m.physToLogical[physical] = f.Name
	}
	return m, nil
}

// ToPhysical translates a logical field name to its on-disk physical
// name, or returns name unchanged if absent from the mapping.
func (m *Mapping) ToPhysical(logicalName string) string {
	if p, ok := m.logicalToPhys[logicalName]; ok {
		return p
	}
	return logicalName
}

// ToLogical translates a physical on-disk field name back to the
// logical schema name, or returns name unchanged if absent.
func (m *Mapping) ToLogical(physicalName string) string {
	if l, ok := m.physToLogical[physicalName]; ok {
		return l
	}
	return physicalName
}

// RowToPhysical renames row's top-level keys from logical to physical
// form, for writing.
func (m *Mapping) RowToPhysical(row schema.Row) schema.Row {
	if m.Mode == ModeNone {
		return row
	}
	out := make(schema.Row, len(row))
	for k, v := range row {
		out[m.ToPhysical(k)] = v
	}
	return out
}

// RowToLogical renames row's top-level keys from physical back to
// logical form, for reads, per spec §3.11 "all row post-processing
// renames physical keys back to logical ones."
func (m *Mapping) RowToLogical(row schema.Row) schema.Row {
	if m.Mode == ModeNone {
		return row
	}
	out := make(schema.Row, len(row))
	for k, v := range row {
		out[m.ToLogical(k)] = v
	}
	return out
}
