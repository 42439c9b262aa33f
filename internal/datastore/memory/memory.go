// Package memory implements an in-process datastore.Store backed by
// maps, for tests and local development (grounded on the teacher's
// internal/infra/storage/memory.MemoryStorage).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainflux/demux/internal/datastore"
	"github.com/chainflux/demux/internal/domain"
)

// QueryContext is the generic query/mutation surface this store
// exposes to updaters through datastore.Store.Context: a set of named
// tables, each a key/value map (spec.md §6 "a user-supplied context(T)
// factory that exposes whatever query/mutation surface the updaters
// need").
type QueryContext struct {
	tx *tx
}

func (q *QueryContext) Set(table, key string, value any) {
	t, ok := q.tx.tables[table]
	if !ok {
		t = make(map[string]any)
		q.tx.tables[table] = t
	}
	t[key] = value
}

func (q *QueryContext) Get(table, key string) (any, bool) {
	t, ok := q.tx.tables[table]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

func (q *QueryContext) Delete(table, key string) {
	if t, ok := q.tx.tables[table]; ok {
		delete(t, key)
	}
}

func (q *QueryContext) All(table string) map[string]any {
	out := make(map[string]any)
	for k, v := range q.tx.tables[table] {
		out[k] = v
	}
	return out
}

type tx struct {
	tables   map[string]map[string]any
	state    domain.IndexState
	hasState bool
}

type snapshot struct {
	state  domain.IndexState
	tables map[string]map[string]any
}

// Store is an in-process, map-backed datastore.Store and
// datastore.SnapshotStore.
type Store struct {
	mu         sync.Mutex
	tables     map[string]map[string]any
	current    domain.IndexState
	hasCurrent bool
	history    map[uint64]snapshot
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tables:  make(map[string]map[string]any),
		history: make(map[uint64]snapshot),
	}
}

func cloneTables(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for table, kv := range in {
		cp := make(map[string]any, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[table] = cp
	}
	return out
}

func (s *Store) BeginTransaction(ctx context.Context) (datastore.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &tx{tables: cloneTables(s.tables), state: s.current, hasState: s.hasCurrent}, nil
}

func (s *Store) Commit(ctx context.Context, t datastore.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	x := t.(*tx)
	s.tables = x.tables
	s.current = x.state
	s.hasCurrent = x.hasState
	s.history[x.state.BlockNumber] = snapshot{state: x.state, tables: cloneTables(x.tables)}
	return nil
}

func (s *Store) Rollback(ctx context.Context, t datastore.Tx) error {
	return nil
}

func (s *Store) ReadIndexState(ctx context.Context, t datastore.Tx) (domain.IndexState, bool, error) {
	x := t.(*tx)
	return x.state, x.hasState, nil
}

func (s *Store) WriteIndexState(ctx context.Context, t datastore.Tx, state domain.IndexState) error {
	x := t.(*tx)
	x.state = state
	x.hasState = true
	return nil
}

// Context returns the QueryContext scoped to t.
func (s *Store) Context(t datastore.Tx) any {
	return &QueryContext{tx: t.(*tx)}
}

// Snapshot is a no-op: Commit already records an implicit snapshot
// for every block, keyed by the block number just committed.
func (s *Store) Snapshot(ctx context.Context, t datastore.Tx, blockNumber uint64) error {
	return nil
}

// RestoreSnapshot restores t to the snapshot recorded at blockNumber,
// or to the empty state when blockNumber is 0.
func (s *Store) RestoreSnapshot(ctx context.Context, t datastore.Tx, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	x := t.(*tx)
	if blockNumber == 0 {
		x.tables = make(map[string]map[string]any)
		x.state = domain.IndexState{}
		x.hasState = false
		return nil
	}
	snap, ok := s.history[blockNumber]
	if !ok {
		return fmt.Errorf("memory: no snapshot recorded at block %d", blockNumber)
	}
	x.tables = cloneTables(snap.tables)
	x.state = snap.state
	x.hasState = true
	return nil
}
