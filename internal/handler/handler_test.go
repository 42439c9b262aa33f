package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chainflux/demux/internal/datastore"
	"github.com/chainflux/demux/internal/domain"
)

// --- fake datastore ---

type fakeQC struct {
	kv map[string]string
}

func (q *fakeQC) set(key, val string) { q.kv[key] = val }
func (q *fakeQC) get(key string) (string, bool) {
	v, ok := q.kv[key]
	return v, ok
}

type fakeTx struct {
	kv       map[string]string
	state    domain.IndexState
	hasState bool
}

type snapshot struct {
	state domain.IndexState
	kv    map[string]string
}

type fakeStore struct {
	current    domain.IndexState
	hasCurrent bool
	kv         map[string]string
	history    map[uint64]snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{kv: make(map[string]string), history: make(map[uint64]snapshot)}
}

func cloneKV(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *fakeStore) BeginTransaction(ctx context.Context) (datastore.Tx, error) {
	return &fakeTx{kv: cloneKV(s.kv), state: s.current, hasState: s.hasCurrent}, nil
}

func (s *fakeStore) Commit(ctx context.Context, tx datastore.Tx) error {
	ft := tx.(*fakeTx)
	s.kv = ft.kv
	s.current = ft.state
	s.hasCurrent = ft.hasState
	s.history[ft.state.BlockNumber] = snapshot{state: ft.state, kv: cloneKV(ft.kv)}
	return nil
}

func (s *fakeStore) Rollback(ctx context.Context, tx datastore.Tx) error { return nil }

func (s *fakeStore) ReadIndexState(ctx context.Context, tx datastore.Tx) (domain.IndexState, bool, error) {
	ft := tx.(*fakeTx)
	return ft.state, ft.hasState, nil
}

func (s *fakeStore) WriteIndexState(ctx context.Context, tx datastore.Tx, state domain.IndexState) error {
	ft := tx.(*fakeTx)
	ft.state = state
	ft.hasState = true
	return nil
}

func (s *fakeStore) Context(tx datastore.Tx) any {
	return &fakeQC{kv: tx.(*fakeTx).kv}
}

func (s *fakeStore) Snapshot(ctx context.Context, tx datastore.Tx, blockNumber uint64) error {
	return nil
}

func (s *fakeStore) RestoreSnapshot(ctx context.Context, tx datastore.Tx, blockNumber uint64) error {
	ft := tx.(*fakeTx)
	if blockNumber == 0 {
		ft.kv = make(map[string]string)
		ft.state = domain.IndexState{}
		ft.hasState = false
		return nil
	}
	snap, ok := s.history[blockNumber]
	if !ok {
		return fmt.Errorf("no snapshot at block %d", blockNumber)
	}
	ft.kv = cloneKV(snap.kv)
	ft.state = snap.state
	ft.hasState = true
	return nil
}

// --- fake dispatcher ---

type fakeDispatcher struct {
	jobs []EffectJob
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobs []EffectJob) error {
	d.jobs = append(d.jobs, jobs...)
	return nil
}

func transferUpdater(ctx context.Context, qc any, action domain.Action, block domain.Block) error {
	qc.(*fakeQC).set(action.TransactionID, fmt.Sprintf("%d", block.Number))
	return nil
}

func block(n uint64, hash, prev string) domain.Block {
	return domain.Block{
		Number:       n,
		Hash:         hash,
		PreviousHash: prev,
		Actions: []domain.Action{
			{Type: "transfer", TransactionID: fmt.Sprintf("tx%d", n), ActionIndex: 0},
		},
	}
}

func TestHandler_AppliesBlocksInOrder(t *testing.T) {
	store := newFakeStore()
	h := New(store, []UpdaterRegistration{{ActionType: "transfer", Fn: transferUpdater}}, nil, nil, Config{StartAtBlock: 1}, nil)

	b1 := block(1, "h1", "")
	if err := h.HandleBlock(context.Background(), b1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b2 := block(2, "h2", "h1")
	if err := h.HandleBlock(context.Background(), b2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok, err := h.LoadIndexState(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected index state, got ok=%v err=%v", ok, err)
	}
	if state.BlockNumber != 2 || state.BlockHash != "h2" {
		t.Fatalf("unexpected index state: %+v", state)
	}
	if v, _ := store.kv["tx2"]; v != "2" {
		t.Fatalf("updater did not apply: %v", store.kv)
	}
}

func TestHandler_RejectsWrongFirstBlock(t *testing.T) {
	store := newFakeStore()
	h := New(store, nil, nil, nil, Config{StartAtBlock: 5}, nil)

	err := h.HandleBlock(context.Background(), block(1, "h1", ""))
	if !errors.Is(err, domain.ErrOutOfOrderBlock) {
		t.Fatalf("expected ErrOutOfOrderBlock, got %v", err)
	}
}

func TestHandler_RejectsGap(t *testing.T) {
	store := newFakeStore()
	h := New(store, nil, nil, nil, Config{StartAtBlock: 1}, nil)

	if err := h.HandleBlock(context.Background(), block(1, "h1", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := h.HandleBlock(context.Background(), block(3, "h3", "h2"))
	if !errors.Is(err, domain.ErrOutOfOrderBlock) {
		t.Fatalf("expected ErrOutOfOrderBlock, got %v", err)
	}
}

func TestHandler_RejectsHashMismatch(t *testing.T) {
	store := newFakeStore()
	h := New(store, nil, nil, nil, Config{StartAtBlock: 1}, nil)

	if err := h.HandleBlock(context.Background(), block(1, "h1", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := h.HandleBlock(context.Background(), block(2, "h2", "wrong"))
	if !errors.Is(err, domain.ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestHandler_SuppressesEffectsDuringReplay(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	effectFn := func(ctx context.Context, action domain.Action, b domain.Block) error { return nil }
	h := New(store,
		[]UpdaterRegistration{{ActionType: "transfer", Fn: transferUpdater}},
		[]EffectRegistration{{ActionType: "transfer", Fn: effectFn}},
		disp, Config{StartAtBlock: 1, MaxReplayTarget: 3}, nil)

	for n := uint64(1); n <= 3; n++ {
		prev := ""
		if n > 1 {
			prev = fmt.Sprintf("h%d", n-1)
		}
		if err := h.HandleBlock(context.Background(), block(n, fmt.Sprintf("h%d", n), prev)); err != nil {
			t.Fatalf("block %d: unexpected error: %v", n, err)
		}
	}
	if len(disp.jobs) != 0 {
		t.Fatalf("expected no effects during replay, got %d", len(disp.jobs))
	}

	if err := h.HandleBlock(context.Background(), block(4, "h4", "h3")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(disp.jobs) != 1 {
		t.Fatalf("expected 1 effect job after leaving replay, got %d", len(disp.jobs))
	}
}

func TestHandler_RollbackRestoresIndexState(t *testing.T) {
	store := newFakeStore()
	h := New(store, []UpdaterRegistration{{ActionType: "transfer", Fn: transferUpdater}}, nil, nil, Config{StartAtBlock: 1}, nil)

	if err := h.HandleBlock(context.Background(), block(1, "h1", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.HandleBlock(context.Background(), block(2, "h2", "h1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.HandleBlock(context.Background(), block(3, "h3", "h2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.RollbackTo(context.Background(), 3); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	state, ok, err := h.LoadIndexState(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected index state after rollback, got ok=%v err=%v", ok, err)
	}
	if state.BlockNumber != 2 || state.BlockHash != "h2" {
		t.Fatalf("expected cursor at block 2 after rollback, got %+v", state)
	}
	if _, ok := store.kv["tx3"]; ok {
		t.Fatalf("expected tx3 state to be discarded by rollback")
	}

	if err := h.HandleBlock(context.Background(), block(3, "h3b", "h2")); err != nil {
		t.Fatalf("reapplying block 3 after rollback should succeed: %v", err)
	}
}
