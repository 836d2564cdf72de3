package deltalake

import (
	"strconv"
	"strings"
	"time"

	"github.com/deltaforge/deltalake/internal/columnmap"
)

// Configuration keys recognized in Metadata.Configuration, per spec §6.
const (
	ConfigPartitionColumns   = "delta.partitionColumns"
	ConfigEnableChangeFeed   = "delta.enableChangeDataFeed"
	ConfigColumnMappingMode  = "delta.columnMapping.mode"
	ConfigCheckpointInterval = "delta.checkpointInterval"
	ConfigVacuumRetention    = "delta.vacuum.retentionDuration"
)

const (
	defaultCheckpointInterval = 10
	defaultVacuumRetention    = 7 * 24 * time.Hour
)

// TableConfig is the parsed, typed form of a table's Metadata
// configuration map, mirroring the teacher's StorageConfig /
// DefaultStorageConfig pattern in tinysql.go.
type TableConfig struct {
	// PartitionColumns groups writes into Hive-style partition paths.
	PartitionColumns []string

	// EnableChangeDataFeed turns on CDC record emission for write,
	// update, delete, and merge.
	EnableChangeDataFeed bool

	// ColumnMappingMode selects physical/logical column name
	// translation; ModeNone disables it.
	ColumnMappingMode columnmap.Mode

	// CheckpointInterval is the number of commits between automatic
	// checkpoint writes. Zero uses defaultCheckpointInterval.
	CheckpointInterval int

	// VacuumRetention is the minimum age a removed file must reach
	// before Vacuum may delete it.
	VacuumRetention time.Duration
}

// DefaultTableConfig returns a TableConfig with the spec's documented
// defaults, unpartitioned and with CDC disabled.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		CheckpointInterval: defaultCheckpointInterval,
		VacuumRetention:    defaultVacuumRetention,
	}
}

// ParseTableConfig decodes a Metadata.Configuration map into a
// TableConfig, applying defaults for absent or malformed numeric keys
// rather than failing the whole parse.
func ParseTableConfig(raw map[string]string) TableConfig {
	cfg := DefaultTableConfig()
	if pc, ok := raw[ConfigPartitionColumns]; ok && pc != "" {
		parts := strings.Split(pc, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.PartitionColumns = parts
	}
	if v, ok := raw[ConfigEnableChangeFeed]; ok {
		cfg.EnableChangeDataFeed = v == "true"
	}
	if v, ok := raw[ConfigColumnMappingMode]; ok {
		switch v {
		case string(columnmap.ModeName):
			cfg.ColumnMappingMode = columnmap.ModeName
		case string(columnmap.ModeID):
			cfg.ColumnMappingMode = columnmap.ModeID
		}
	}
	if v, ok := raw[ConfigCheckpointInterval]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CheckpointInterval = n
		}
	}
	if v, ok := raw[ConfigVacuumRetention]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.VacuumRetention = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

// ToConfiguration serializes cfg back into a Metadata.Configuration map,
// omitting keys left at their zero value so unconfigured tables produce
// a minimal Metadata action.
func (c TableConfig) ToConfiguration() map[string]string {
	out := map[string]string{}
	if len(c.PartitionColumns) > 0 {
		out[ConfigPartitionColumns] = strings.Join(c.PartitionColumns, ",")
	}
	if c.EnableChangeDataFeed {
		out[ConfigEnableChangeFeed] = "true"
	}
	if c.ColumnMappingMode != columnmap.ModeNone {
		out[ConfigColumnMappingMode] = string(c.ColumnMappingMode)
	}
	if c.CheckpointInterval != 0 && c.CheckpointInterval != defaultCheckpointInterval {
		out[ConfigCheckpointInterval] = strconv.Itoa(c.CheckpointInterval)
	}
	if c.VacuumRetention != 0 && c.VacuumRetention != defaultVacuumRetention {
		out[ConfigVacuumRetention] = strconv.FormatInt(c.VacuumRetention.Milliseconds(), 10)
	}
	return out
}
