// Package txlog implements the Delta Lake action types, their JSON-lines
// serialization, and the optimistic-concurrency commit protocol of
// spec §4.5, grounded on the teacher's append-only WAL in
// wal_advanced.go (record framing, replay-in-order, abort handling)
// generalized from row-level WAL records to whole-commit JSON actions.
package txlog

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DVDescriptor is the Deletion Vector Descriptor of spec §3.
type DVDescriptor struct {
	Storage     string `json:"storage"` // "u" | "p" | "i"
	PathOrInlineDV string `json:"pathOrInlineDv"`
	Offset      *int64 `json:"offset,omitempty"`
	SizeInBytes int64  `json:"sizeInBytes"`
	Cardinality int64  `json:"cardinality"`
}

// FileStats is the optional serialized per-column statistics carried
// on an AddFile, matching the columnar writer's output contract.
type FileStats struct {
	NumRecords int64                     `json:"numRecords"`
	MinValues  map[string]any            `json:"minValues,omitempty"`
	MaxValues  map[string]any            `json:"maxValues,omitempty"`
	NullCount  map[string]int64          `json:"nullCount,omitempty"`
	DistinctCount map[string]int64       `json:"distinctCount,omitempty"`
}

// AddFile is the payload of an Add action.
type AddFile struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues,omitempty"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"` // ms since epoch
	DataChange       bool              `json:"dataChange"`
	Stats            *FileStats        `json:"stats,omitempty"`
	DeletionVector   *DVDescriptor     `json:"deletionVector,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// RemoveFile is the payload of a Remove action.
type RemoveFile struct {
	Path                 string            `json:"path"`
	DeletionTimestamp    int64             `json:"deletionTimestamp"`
	DataChange           bool              `json:"dataChange"`
	PartitionValues      map[string]string `json:"partitionValues,omitempty"`
	Size                 *int64            `json:"size,omitempty"`
}

// MetadataAction is the payload of a Metadata action.
type MetadataAction struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
	Format           string            `json:"format"`
}

// ProtocolAction is the payload of a Protocol action.
type ProtocolAction struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// CommitInfoAction is the payload of a CommitInfo action.
type CommitInfoAction struct {
	Timestamp      int64          `json:"timestamp"`
	Operation      string         `json:"operation"`
	Parameters     map[string]any `json:"operationParameters,omitempty"`
	ReadVersion    *int64         `json:"readVersion,omitempty"`
	IsolationLevel string         `json:"isolationLevel,omitempty"`
	IsBlindAppend  *bool          `json:"isBlindAppend,omitempty"`
	TxnID          string         `json:"txnId,omitempty"`
}

// Action is the sum type of spec §3: exactly one of its non-nil fields
// is set, matching the one-action-per-log-line wire form.
type Action struct {
	Add        *AddFile          `json:"add,omitempty"`
	Remove     *RemoveFile       `json:"remove,omitempty"`
	Metadata   *MetadataAction   `json:"metaData,omitempty"`
	Protocol   *ProtocolAction   `json:"protocol,omitempty"`
	CommitInfo *CommitInfoAction `json:"commitInfo,omitempty"`
}

// NewTxnID mints a new transaction identifier for CommitInfo actions,
// using google/uuid the way the teacher's uuid_helpers.go wraps it for
// row identity.
func NewTxnID() string { return uuid.NewString() }

// MarshalActions serializes actions as newline-delimited JSON, one
// action object per line, per spec §4.5 "its body is one JSON object
// per line, each a single action."
func MarshalActions(actions []Action) ([]byte, error) {
	var buf []byte
	for _, a := range actions {
		line, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("txlog: marshal action: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// UnmarshalActions parses a commit file's JSON-lines body.
func UnmarshalActions(data []byte) ([]Action, error) {
	var out []Action
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(bytesTrim(line)) == 0 {
				continue
			}
			var a Action
			if err := json.Unmarshal(line, &a); err != nil {
				return nil, fmt.Errorf("txlog: unmarshal action at byte %d: %w", start, err)
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func bytesTrim(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}
