// Package storage defines the abstract blob-store contract the engine
// relies on for all persistence and synchronization (spec §4.1). It
// carries no concrete cloud driver; the in-memory reference
// implementation (membackend.go, with testing hooks) and a local-disk
// implementation (diskbackend.go) live here as the two backends this
// module ships with.
package storage

import (
	"context"
	"time"
)

// Stat describes an object's metadata without its content.
type Stat struct {
	Size         int64
	LastModified time.Time
	Version      string
}

// Backend is the sole synchronization and persistence primitive the
// engine depends on. Implementations must make WriteConditional
// atomic: it is the only thing making concurrent writers from
// different processes safe (spec §5, "Distributed coordination note").
type Backend interface {
	// Read returns the full contents of path. Returns a deltaerr
	// StorageError{NotFound} if absent.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadRange returns bytes in [start, end) of path. end is exclusive.
	ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error)

	// Write idempotently overwrites path.
	Write(ctx context.Context, path string, data []byte) error

	// Delete idempotently removes path; a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every key under prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Stat returns metadata for path, or (nil, nil) if absent.
	Stat(ctx context.Context, path string) (*Stat, error)

	// GetVersion returns an opaque token that changes whenever path's
	// contents change, or "" if path is absent.
	GetVersion(ctx context.Context, path string) (string, error)

	// WriteConditional atomically writes data to path iff the current
	// version equals expectedVersion (empty string means "must be
	// absent"). On mismatch it returns a StorageError{VersionMismatch}
	// carrying the actual version. On success it returns the new version.
	WriteConditional(ctx context.Context, path string, data []byte, expectedVersion string) (newVersion string, err error)
}
