// Package datastore defines the capability set the Action Handler
// depends on to apply updaters atomically and persist the index-state
// cursor (spec.md §6 "Datastore adapter interface"). Concrete
// implementations live in sub-packages (postgres, memory); the core
// handler package never imports a specific storage engine.
package datastore

import (
	"context"

	"github.com/chainflux/demux/internal/domain"
)

// Tx is an open datastore transaction handle. It carries no methods
// of its own — implementations pass their native transaction type
// through this interface and recover it via a type assertion inside
// their own Context factory.
type Tx interface{}

// Store is the datastore-level capability set consumed by the handler.
type Store interface {
	// BeginTransaction opens a new transaction.
	BeginTransaction(ctx context.Context) (Tx, error)

	// Commit commits a transaction opened by BeginTransaction.
	Commit(ctx context.Context, tx Tx) error

	// Rollback aborts a transaction opened by BeginTransaction. Safe
	// to call on an already-committed or already-rolled-back Tx.
	Rollback(ctx context.Context, tx Tx) error

	// ReadIndexState reads the persisted cursor within tx. Returns
	// (IndexState{}, false, nil) when no cursor has been written yet.
	ReadIndexState(ctx context.Context, tx Tx) (domain.IndexState, bool, error)

	// WriteIndexState writes the cursor within tx.
	WriteIndexState(ctx context.Context, tx Tx, state domain.IndexState) error

	// Context returns the query/mutation surface updaters use, scoped
	// to tx. Its
	// concrete type is implementation-specific; updaters receive it
	// as `any` and assert the type their registration expects.
	Context(tx Tx) any
}

// SnapshotStore is an optional capability: datastores that can
// materialize and restore point-in-time snapshots implement it so
// that Handler.RollbackTo can restore derived state to the snapshot as
// of block target-1 (spec.md §4.2 "Rollback semantics").
// Handler.RollbackTo returns an error for a datastore without this
// capability.
type SnapshotStore interface {
	// Snapshot captures derived state as of the given block number,
	// inside the same transaction that wrote that block's IndexState.
	Snapshot(ctx context.Context, tx Tx, blockNumber uint64) error

	// RestoreSnapshot restores derived state and IndexState to the
	// snapshot taken at exactly blockNumber, inside tx, or clears both
	// when blockNumber is 0. It returns an error when no snapshot was
	// recorded at blockNumber. Later snapshots are kept and are
	// overwritten when those block numbers are committed again.
	RestoreSnapshot(ctx context.Context, tx Tx, blockNumber uint64) error
}
