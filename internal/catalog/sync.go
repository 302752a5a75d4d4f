package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
)

// FetchError reports a failed catalog refresh. It is recoverable: the
// previous snapshot stays in place and callers keep editing against it.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("catalog refresh: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// FetchFunc retrieves the raw node-type list from the engine. The session
// layer supplies one that carries the current session id.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Snapshot is one immutable catalog generation. Lookups against a snapshot
// are stable even while the synchronizer swaps in a newer one.
type Snapshot struct {
	version   uint64
	fetchedAt time.Time
	types     map[string]*NodeTypeSchema
	order     []string
}

func newSnapshot(version uint64, types []*NodeTypeSchema) *Snapshot {
	s := &Snapshot{
		version:   version,
		fetchedAt: time.Now(),
		types:     make(map[string]*NodeTypeSchema, len(types)),
		order:     make([]string, 0, len(types)),
	}
	for _, t := range types {
		s.types[t.TypeName] = t
		s.order = append(s.order, t.TypeName)
	}
	return s
}

// Version returns the snapshot's generation counter.
func (s *Snapshot) Version() uint64 { return s.version }

// FetchedAt returns when this snapshot was installed.
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// Len returns the number of node types.
func (s *Snapshot) Len() int { return len(s.types) }

// Lookup returns the schema for a type name.
func (s *Snapshot) Lookup(typeName string) (*NodeTypeSchema, bool) {
	t, ok := s.types[typeName]
	return t, ok
}

// Types returns all schemas in the order the engine listed them.
func (s *Snapshot) Types() []*NodeTypeSchema {
	out := make([]*NodeTypeSchema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.types[name])
	}
	return out
}

// Synchronizer keeps the local registry in step with the engine. Reads go
// through an atomically swapped immutable snapshot; no lock is held across
// I/O.
type Synchronizer struct {
	fetch   FetchFunc
	snap    atomic.Pointer[Snapshot]
	version atomic.Uint64

	// refreshMu serializes writers only. Concurrent Refresh calls would
	// otherwise race on the version counter.
	refreshMu sync.Mutex
}

// NewSynchronizer starts with an empty version-0 snapshot.
func NewSynchronizer(fetch FetchFunc) *Synchronizer {
	s := &Synchronizer{fetch: fetch}
	s.snap.Store(newSnapshot(0, nil))
	return s
}

// Refresh fetches the full node-type list and atomically replaces the
// registry. On failure the previous catalog stays available and a
// FetchError is returned.
func (s *Synchronizer) Refresh(ctx context.Context) (uint64, error) {
	logger := ctxlog.FromContext(ctx)

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	raw, err := s.fetch(ctx)
	if err != nil {
		logger.Warn("Catalog refresh failed, keeping previous catalog", "version", s.snap.Load().Version(), "error", err)
		return 0, &FetchError{Err: err}
	}

	types, err := DecodeNodeTypes(raw)
	if err != nil {
		logger.Warn("Catalog payload rejected, keeping previous catalog", "version", s.snap.Load().Version(), "error", err)
		return 0, &FetchError{Err: err}
	}

	version := s.version.Add(1)
	s.snap.Store(newSnapshot(version, types))
	logger.Info("Catalog refreshed", "version", version, "node_types", len(types))
	return version, nil
}

// Install replaces the registry with an externally obtained type list (the
// offline cache, or fixtures in tests) and returns the new version.
func (s *Synchronizer) Install(types []*NodeTypeSchema) uint64 {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	version := s.version.Add(1)
	s.snap.Store(newSnapshot(version, types))
	return version
}

// Lookup resolves a type name against the current snapshot.
func (s *Synchronizer) Lookup(typeName string) (*NodeTypeSchema, bool) {
	return s.snap.Load().Lookup(typeName)
}

// Snapshot returns the current immutable catalog generation.
func (s *Synchronizer) Snapshot() *Snapshot {
	return s.snap.Load()
}
