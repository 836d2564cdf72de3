package deltalake

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Description is the human-readable snapshot dump returned by
// Describe: schema, partitioning, configuration, and per-file
// metadata, deliberately leaving out row contents.
type Description struct {
	TablePath        string            `yaml:"tablePath"`
	Version          int64             `yaml:"version"`
	Schema           []FieldDesc       `yaml:"schema"`
	PartitionColumns []string          `yaml:"partitionColumns,omitempty"`
	Configuration    map[string]string `yaml:"configuration,omitempty"`
	Protocol         *ProtocolDesc     `yaml:"protocol,omitempty"`
	Files            []FileDesc        `yaml:"files"`
}

// FieldDesc is one schema field in a Description.
type FieldDesc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// ProtocolDesc mirrors txlog.ProtocolAction for display.
type ProtocolDesc struct {
	MinReaderVersion int `yaml:"minReaderVersion"`
	MinWriterVersion int `yaml:"minWriterVersion"`
}

// FileDesc is one live data file in a Description.
type FileDesc struct {
	Path            string            `yaml:"path"`
	PartitionValues map[string]string `yaml:"partitionValues,omitempty"`
	Size            int64             `yaml:"size"`
	NumRecords      int64             `yaml:"numRecords,omitempty"`
	HasDeletionVector bool            `yaml:"hasDeletionVector,omitempty"`
}

// Describe builds a Description of the table at version (nil for the
// current cached snapshot), the introspection counterpart to Query
// (spec §4.6 "describe()").
func (t *Table) Describe(ctx context.Context, version *int64) (*Description, error) {
	snap, err := t.Snapshot(ctx, version)
	if err != nil {
		return nil, err
	}

	desc := &Description{TablePath: t.tablePath, Version: snap.Version}
	if snap.Metadata != nil {
		t.mu.Lock()
		sch := t.schema
		t.mu.Unlock()
		for _, f := range sch.Fields {
			desc.Schema = append(desc.Schema, FieldDesc{Name: f.Name, Type: string(f.Type), Nullable: f.Nullable})
		}
		desc.PartitionColumns = snap.Metadata.PartitionColumns
		desc.Configuration = snap.Metadata.Configuration
	}
	if snap.Protocol != nil {
		desc.Protocol = &ProtocolDesc{MinReaderVersion: snap.Protocol.MinReaderVersion, MinWriterVersion: snap.Protocol.MinWriterVersion}
	}
	for _, path := range snap.SortedPaths() {
		add := snap.Files[path]
		fd := FileDesc{Path: add.Path, PartitionValues: add.PartitionValues, Size: add.Size, HasDeletionVector: add.DeletionVector != nil}
		if add.Stats != nil {
			fd.NumRecords = add.Stats.NumRecords
		}
		desc.Files = append(desc.Files, fd)
	}
	return desc, nil
}

// String renders d as YAML, the format the teacher's catalog dump
// (SHOW TABLES equivalent) would use for a human-facing summary.
func (d *Description) String() string {
	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Sprintf("deltalake: failed to render description: %v", err)
	}
	return string(b)
}
