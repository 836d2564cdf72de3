package txlog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/deltaforge/deltalake/internal/deltaerr"
	"github.com/deltaforge/deltalake/internal/storage"
)

const logDir = "_delta_log"
const versionDigits = 20

// CommitPath returns the log-relative path of version's commit file.
func CommitPath(tablePath string, version int64) string {
	return fmt.Sprintf("%s/%s/%s.json", tablePath, logDir, padVersion(version))
}

func padVersion(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) >= versionDigits {
		return s
	}
	return strings.Repeat("0", versionDigits-len(s)) + s
}

// LogDirPath returns the _delta_log prefix for a table.
func LogDirPath(tablePath string) string { return tablePath + "/" + logDir }

// ParseCommitVersion extracts the version number from a log file name
// such as "00000000000000000001.json"; ok is false for non-commit names
// (checkpoints, _last_checkpoint).
func ParseCommitVersion(name string) (version int64, ok bool) {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if !strings.HasSuffix(base, ".json") {
		return 0, false
	}
	digits := strings.TrimSuffix(base, ".json")
	if len(digits) != versionDigits {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Commit is a fully materialized version: its actions and version number.
type Commit struct {
	Version int64
	Actions []Action
}

// ReadCommit loads and parses one commit file.
func ReadCommit(ctx context.Context, backend storage.Backend, tablePath string, version int64) (*Commit, error) {
	data, err := backend.Read(ctx, CommitPath(tablePath, version))
	if err != nil {
		return nil, err
	}
	actions, err := UnmarshalActions(data)
	if err != nil {
		return nil, deltaerr.NewValidationError("commit", version, err.Error())
	}
	return &Commit{Version: version, Actions: actions}, nil
}

// ListCommitVersions returns every committed version number at or
// below (if maxVersion >= 0) the given ceiling, in ascending order.
// maxVersion < 0 means unbounded.
func ListCommitVersions(ctx context.Context, backend storage.Backend, tablePath string, maxVersion int64) ([]int64, error) {
	names, err := backend.List(ctx, LogDirPath(tablePath)+"/")
	if err != nil {
		return nil, err
	}
	var versions []int64
	for _, n := range names {
		v, ok := ParseCommitVersion(n)
		if !ok {
			continue
		}
		if maxVersion >= 0 && v > maxVersion {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// LatestVersion returns the highest committed version, or -1 if the
// log is empty.
func LatestVersion(ctx context.Context, backend storage.Backend, tablePath string) (int64, error) {
	versions, err := ListCommitVersions(ctx, backend, tablePath, -1)
	if err != nil {
		return -1, err
	}
	if len(versions) == 0 {
		return -1, nil
	}
	return versions[len(versions)-1], nil
}

// CommitResult is returned by Commit on success.
type CommitResult struct {
	Version int64
}

// CommitAt appends actions as a new commit at version readVersion+1,
// using the storage backend's conditional write as the sole
// synchronization primitive (spec §4.5 "Commit protocol").
//
// On a version clash (the target file already exists) it re-reads the
// tail of the log to discover the actual newest version and returns a
// *deltaerr.Error{Code: CONCURRENCY}; it never retries on its own —
// callers compose with internal/retry.Do if they want that.
func CommitAt(ctx context.Context, backend storage.Backend, tablePath string, readVersion int64, actions []Action) (*CommitResult, error) {
	target := readVersion + 1
	path := CommitPath(tablePath, target)
	body, err := MarshalActions(actions)
	if err != nil {
		return nil, err
	}

	_, err = backend.WriteConditional(ctx, path, body, "")
	if err == nil {
		return &CommitResult{Version: target}, nil
	}

	if se, ok := deltaerr.IsStorageError(err); ok && se.StorageKind == deltaerr.StorageVersionMismatch {
		actual, lerr := LatestVersion(ctx, backend, tablePath)
		if lerr != nil {
			return nil, lerr
		}
		return nil, deltaerr.NewConcurrencyError(readVersion, actual)
	}
	return nil, err
}
