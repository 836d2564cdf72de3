package txlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/deltaforge/deltalake/internal/columnar"
	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/schema"
	"github.com/deltaforge/deltalake/internal/storage"
)

const lastCheckpointPath = "_last_checkpoint"

// LastCheckpoint is the `_last_checkpoint` pointer document of spec §4.5.
type LastCheckpoint struct {
	Version       int64  `json:"version"`
	Size          int64  `json:"size"`
	Parts         *int   `json:"parts,omitempty"`
	SizeInBytes   *int64 `json:"sizeInBytes,omitempty"`
	NumOfAddFiles *int64 `json:"numOfAddFiles,omitempty"`
}

func lastCheckpointFilePath(tablePath string) string {
	return LogDirPath(tablePath) + "/" + lastCheckpointPath
}

// ReadLastCheckpoint loads `_last_checkpoint`, returning (nil, nil) if
// it is absent.
func ReadLastCheckpoint(ctx context.Context, backend storage.Backend, tablePath string) (*LastCheckpoint, error) {
	data, err := backend.Read(ctx, lastCheckpointFilePath(tablePath))
	if err != nil {
		if deltaerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var lc LastCheckpoint
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, deltaerr.NewValidationError("_last_checkpoint", string(data), err.Error())
	}
	return &lc, nil
}

func checkpointPartPath(tablePath string, version int64, part, total int) string {
	if total <= 1 {
		return fmt.Sprintf("%s/%s.checkpoint.parquet", LogDirPath(tablePath), padVersion(version))
	}
	return fmt.Sprintf("%s/%s.checkpoint.%05d.%05d.parquet", LogDirPath(tablePath), padVersion(version), part, total)
}

// actionToRow builds one row of the columnar checkpoint file: a
// one-of-N envelope around a single action, matching spec §4.5
// "whose rows carry one action each (in one-of-N form)."
func actionToRow(a Action) schema.Row {
	row := schema.Row{}
	if a.Add != nil {
		b, _ := json.Marshal(a.Add)
		row["add"] = string(b)
	}
	if a.Remove != nil {
		b, _ := json.Marshal(a.Remove)
		row["remove"] = string(b)
	}
	if a.Metadata != nil {
		b, _ := json.Marshal(a.Metadata)
		row["metaData"] = string(b)
	}
	if a.Protocol != nil {
		b, _ := json.Marshal(a.Protocol)
		row["protocol"] = string(b)
	}
	if a.CommitInfo != nil {
		b, _ := json.Marshal(a.CommitInfo)
		row["commitInfo"] = string(b)
	}
	return row
}

func rowToAction(row schema.Row) (Action, error) {
	var a Action
	if v, ok := row["add"].(string); ok && v != "" {
		var af AddFile
		if err := json.Unmarshal([]byte(v), &af); err != nil {
			return a, err
		}
		a.Add = &af
	}
	if v, ok := row["remove"].(string); ok && v != "" {
		var rf RemoveFile
		if err := json.Unmarshal([]byte(v), &rf); err != nil {
			return a, err
		}
		a.Remove = &rf
	}
	if v, ok := row["metaData"].(string); ok && v != "" {
		var m MetadataAction
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return a, err
		}
		a.Metadata = &m
	}
	if v, ok := row["protocol"].(string); ok && v != "" {
		var p ProtocolAction
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return a, err
		}
		a.Protocol = &p
	}
	if v, ok := row["commitInfo"].(string); ok && v != "" {
		var ci CommitInfoAction
		if err := json.Unmarshal([]byte(v), &ci); err != nil {
			return a, err
		}
		a.CommitInfo = &ci
	}
	return a, nil
}

// CheckpointOptions configures WriteCheckpoint.
type CheckpointOptions struct {
	MaxActionsPerPart int // 0 means single part regardless of size
}

// WriteCheckpoint materializes the live action set (as returned by a
// snapshot builder: the surviving Adds, latest Metadata, latest
// Protocol) as one or more columnar checkpoint parts, then attempts to
// overwrite `_last_checkpoint`. Checkpoint creation is best-effort per
// spec §4.5: failures here must never roll back the commit that
// triggered them, so callers that checkpoint after a commit only log
// its error.
func WriteCheckpoint(ctx context.Context, backend storage.Backend, codec columnar.Codec, tablePath string, version int64, actions []Action, opts CheckpointOptions) error {
	perPart := opts.MaxActionsPerPart
	if perPart <= 0 {
		perPart = len(actions)
		if perPart == 0 {
			perPart = 1
		}
	}
	total := (len(actions) + perPart - 1) / perPart
	if total == 0 {
		total = 1
	}

	for part := 0; part < total; part++ {
		start := part * perPart
		end := start + perPart
		if end > len(actions) {
			end = len(actions)
		}
		w := columnar.NewWriter(codec, columnar.DefaultWriterOptions(), nil)
		for _, a := range actions[start:end] {
			if err := w.WriteRow(ctx, actionToRow(a)); err != nil {
				w.Abort()
				return fmt.Errorf("txlog: encode checkpoint part %d: %w", part, err)
			}
		}
		file, err := w.Finalize(ctx)
		if err != nil {
			return fmt.Errorf("txlog: finalize checkpoint part %d: %w", part, err)
		}
		path := checkpointPartPath(tablePath, version, part+1, total)
		if err := backend.Write(ctx, path, file.Bytes); err != nil {
			return fmt.Errorf("txlog: write checkpoint part %d: %w", part, err)
		}
	}

	lc := LastCheckpoint{Version: version}
	var n int64
	for _, a := range actions {
		if a.Add != nil {
			n++
		}
	}
	lc.NumOfAddFiles = &n
	if total > 1 {
		lc.Parts = &total
	}
	lc.Size = int64(len(actions))
	data, err := json.Marshal(lc)
	if err != nil {
		return err
	}
	return backend.Write(ctx, lastCheckpointFilePath(tablePath), data)
}

// ReadCheckpoint loads all parts of the checkpoint named by lc and
// returns its actions. It returns an error if any part is missing or
// unparsable, letting the caller (snapshot.Build) fall back to full
// log replay per the recovery invariant.
func ReadCheckpoint(ctx context.Context, backend storage.Backend, codec columnar.Codec, tablePath string, lc LastCheckpoint) ([]Action, error) {
	total := 1
	if lc.Parts != nil {
		total = *lc.Parts
	}
	var actions []Action
	for part := 1; part <= total; part++ {
		path := checkpointPartPath(tablePath, lc.Version, part, total)
		data, err := backend.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		it, err := codec.Decode(ctx, data, nil)
		if err != nil {
			return nil, err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				it.Close()
				return nil, err
			}
			if !ok {
				break
			}
			a, err := rowToAction(row)
			if err != nil {
				it.Close()
				return nil, err
			}
			actions = append(actions, a)
		}
		it.Close()
	}
	return actions, nil
}

// sortedCheckpointParts returns the part paths of a total-part
// checkpoint at version, in sorted order.
func sortedCheckpointParts(tablePath string, version int64, total int) []string {
	parts := make([]string, total)
	for i := range parts {
		parts[i] = checkpointPartPath(tablePath, version, i+1, total)
	}
	sort.Strings(parts)
	return parts
}
