package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deltaforge/deltalake/internal/deltaerr"
)

// object is one stored blob plus its monotonic version counter. The
// counter (not a hash) is the "opaque version token" spec §4.1 asks
// for: simple, stable between writes, and strictly increases whenever
// contents change.
type object struct {
	data    []byte
	version uint64
	modTime time.Time
}

// HistoryEntry records one operation against a MemBackend, for tests
// that want to assert on call order or count retries.
type HistoryEntry struct {
	Op   string
	Path string
	At   time.Time
	Err  error
}

// MemBackend is the in-memory reference Backend, one of the two
// concrete storage drivers this module ships alongside DiskBackend
// (spec §1 excludes real cloud drivers from scope); Design Notes §9 requires it carry testing
// hooks, which live here behind plain methods rather than a build tag
// since the type itself is test-and-embedding oriented.
type MemBackend struct {
	mu      sync.Mutex
	objects map[string]*object
	history []HistoryEntry

	latency      time.Duration
	maxObjBytes  int64
	nextVersion  uint64
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{objects: make(map[string]*object)}
}

// WithLatency simulates per-operation latency for fault-injection tests.
func (m *MemBackend) WithLatency(d time.Duration) *MemBackend {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
	return m
}

// WithMaxObjectBytes causes writes larger than n to fail, simulating a
// backend size limit. n<=0 disables the limit.
func (m *MemBackend) WithMaxObjectBytes(n int64) *MemBackend {
	m.mu.Lock()
	m.maxObjBytes = n
	m.mu.Unlock()
	return m
}

// History returns a copy of the Read, Write, Delete and
// WriteConditional calls recorded so far; ReadRange, Exists, List,
// Stat, GetVersion and size-limit rejections are not recorded.
func (m *MemBackend) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// memSnapshot is the serializable form returned by Snapshot.
type memSnapshot struct {
	objects map[string]*object
}

// Snapshot captures the entire key-value state for later Restore. Used
// by tests that want to fork a table's storage and diverge two writers.
func (m *MemBackend) Snapshot() *memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]*object, len(m.objects))
	for k, v := range m.objects {
		dup := *v
		dataCopy := make([]byte, len(v.data))
		copy(dataCopy, v.data)
		dup.data = dataCopy
		cp[k] = &dup
	}
	return &memSnapshot{objects: cp}
}

// Restore replaces the current state with a previously captured Snapshot.
func (m *MemBackend) Restore(s *memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = s.objects
}

func (m *MemBackend) record(op, path string, err error) {
	m.history = append(m.history, HistoryEntry{Op: op, Path: path, At: time.Now(), Err: err})
}

func (m *MemBackend) sleep(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func versionToken(v uint64) string { return strconv.FormatUint(v, 10) }

func (m *MemBackend) Read(ctx context.Context, path string) ([]byte, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		err := deltaerr.NewStorageError(deltaerr.StorageNotFound, "Read", path, nil)
		m.record("Read", path, err)
		return nil, err
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	m.record("Read", path, nil)
	return out, nil
}

func (m *MemBackend) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		err := deltaerr.NewStorageError(deltaerr.StorageNotFound, "ReadRange", path, nil)
		m.record("ReadRange", path, err)
		return nil, err
	}
	n := int64(len(obj.data))
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return []byte{}, nil
	}
	out := make([]byte, end-start)
	copy(out, obj.data[start:end])
	return out, nil
}

func (m *MemBackend) Write(ctx context.Context, path string, data []byte) error {
	if err := m.sleep(ctx); err != nil {
		return deltaerr.NewAbortError(err)
	}
	if m.maxObjBytes > 0 && int64(len(data)) > m.maxObjBytes {
		err := deltaerr.NewStorageError(deltaerr.StorageProvider, "Write", path, nil)
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVersion++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = &object{data: buf, version: m.nextVersion, modTime: time.Now()}
	m.record("Write", path, nil)
	return nil
}

func (m *MemBackend) Delete(ctx context.Context, path string) error {
	if err := m.sleep(ctx); err != nil {
		return deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	m.record("Delete", path, nil)
	return nil
}

func (m *MemBackend) Exists(ctx context.Context, path string) (bool, error) {
	if err := m.sleep(ctx); err != nil {
		return false, deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *MemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemBackend) Stat(ctx context.Context, path string) (*Stat, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, nil
	}
	return &Stat{Size: int64(len(obj.data)), LastModified: obj.modTime, Version: versionToken(obj.version)}, nil
}

func (m *MemBackend) GetVersion(ctx context.Context, path string) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", deltaerr.NewAbortError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		return "", nil
	}
	return versionToken(obj.version), nil
}

// WriteConditional is the sole synchronization primitive. It takes the
// lock for its entire check-then-write so two concurrent callers racing
// on the same path can never both succeed for the same expectedVersion.
func (m *MemBackend) WriteConditional(ctx context.Context, path string, data []byte, expectedVersion string) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", deltaerr.NewAbortError(err)
	}
	if m.maxObjBytes > 0 && int64(len(data)) > m.maxObjBytes {
		return "", deltaerr.NewStorageError(deltaerr.StorageProvider, "WriteConditional", path, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, exists := m.objects[path]
	actual := ""
	if exists {
		actual = versionToken(obj.version)
	}
	if actual != expectedVersion {
		err := deltaerr.NewStorageError(deltaerr.StorageVersionMismatch, "WriteConditional", path, nil)
		err.ExpectedVersion = parseVersionOrNeg1(expectedVersion)
		err.ActualVersion = parseVersionOrNeg1(actual)
		m.record("WriteConditional", path, err)
		return "", err
	}

	m.nextVersion++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = &object{data: buf, version: m.nextVersion, modTime: time.Now()}
	m.record("WriteConditional", path, nil)
	return versionToken(m.nextVersion), nil
}

func parseVersionOrNeg1(s string) int64 {
	if s == "" {
		return -1
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
