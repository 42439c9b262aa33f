package memory

import (
	"context"
	"testing"

	"github.com/chainflux/demux/internal/domain"
)

func TestStore_CommitPersistsStateAndTables(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	qc := s.Context(tx).(*QueryContext)
	qc.Set("balances", "alice", 100)
	if err := s.WriteIndexState(ctx, tx, domain.IndexState{BlockNumber: 1, BlockHash: "h1"}); err != nil {
		t.Fatalf("write index state: %v", err)
	}
	if err := s.Commit(ctx, tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := s.BeginTransaction(ctx)
	state, ok, err := s.ReadIndexState(ctx, tx2)
	if err != nil || !ok {
		t.Fatalf("expected index state, got ok=%v err=%v", ok, err)
	}
	if state.BlockNumber != 1 || state.BlockHash != "h1" {
		t.Fatalf("unexpected state: %+v", state)
	}
	qc2 := s.Context(tx2).(*QueryContext)
	v, ok := qc2.Get("balances", "alice")
	if !ok || v != 100 {
		t.Fatalf("expected balances.alice=100, got %v ok=%v", v, ok)
	}
}

func TestStore_RestoreSnapshotRevertsTables(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx1, _ := s.BeginTransaction(ctx)
	s.Context(tx1).(*QueryContext).Set("balances", "alice", 100)
	s.WriteIndexState(ctx, tx1, domain.IndexState{BlockNumber: 1, BlockHash: "h1"})
	s.Commit(ctx, tx1)

	tx2, _ := s.BeginTransaction(ctx)
	s.Context(tx2).(*QueryContext).Set("balances", "alice", 200)
	s.WriteIndexState(ctx, tx2, domain.IndexState{BlockNumber: 2, BlockHash: "h2"})
	s.Commit(ctx, tx2)

	tx3, _ := s.BeginTransaction(ctx)
	if err := s.RestoreSnapshot(ctx, tx3, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := s.Commit(ctx, tx3); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx4, _ := s.BeginTransaction(ctx)
	state, ok, _ := s.ReadIndexState(ctx, tx4)
	if !ok || state.BlockNumber != 1 {
		t.Fatalf("expected restored state at block 1, got %+v ok=%v", state, ok)
	}
	v, _ := s.Context(tx4).(*QueryContext).Get("balances", "alice")
	if v != 100 {
		t.Fatalf("expected balances.alice=100 after restore, got %v", v)
	}
}

func TestStore_RestoreSnapshotToZeroClearsState(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx1, _ := s.BeginTransaction(ctx)
	s.Context(tx1).(*QueryContext).Set("balances", "alice", 100)
	s.WriteIndexState(ctx, tx1, domain.IndexState{BlockNumber: 1, BlockHash: "h1"})
	s.Commit(ctx, tx1)

	tx2, _ := s.BeginTransaction(ctx)
	if err := s.RestoreSnapshot(ctx, tx2, 0); err != nil {
		t.Fatalf("restore: %v", err)
	}
	s.Commit(ctx, tx2)

	tx3, _ := s.BeginTransaction(ctx)
	_, ok, _ := s.ReadIndexState(ctx, tx3)
	if ok {
		t.Fatalf("expected no index state after restoring to 0")
	}
}
