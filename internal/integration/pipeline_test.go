// Package integration exercises the Reader/Handler/Watcher triad
// together against the in-memory datastore, covering the end-to-end
// scenarios of spec.md §8: happy path, shallow fork, and the replay
// boundary.
package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/chainflux/demux/internal/datastore/memory"
	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/effects"
	"github.com/chainflux/demux/internal/handler"
	"github.com/chainflux/demux/internal/reader"
	"github.com/chainflux/demux/internal/watcher"
)

type fakeChain struct {
	blocks map[uint64]domain.Block
	head   uint64
}

func newFakeChain() *fakeChain { return &fakeChain{blocks: make(map[uint64]domain.Block)} }

func (f *fakeChain) set(b domain.Block) {
	f.blocks[b.Number] = b
	if b.Number > f.head {
		f.head = b.Number
	}
}

func (f *fakeChain) GetHeadBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) GetBlock(ctx context.Context, number uint64) (domain.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return domain.Block{}, domain.ErrBlockNotFound
	}
	return b, nil
}

func hashOf(n uint64) string { return fmt.Sprintf("h%d", n) }

func linearChain(from, to uint64, withAction bool) *fakeChain {
	fc := newFakeChain()
	for n := from; n <= to; n++ {
		prev := ""
		if n > from {
			prev = hashOf(n - 1)
		}
		b := domain.Block{Number: n, Hash: hashOf(n), PreviousHash: prev}
		if withAction {
			b.Actions = []domain.Action{{Type: "transfer", TransactionID: fmt.Sprintf("tx%d", n), Payload: n}}
		}
		fc.set(b)
	}
	return fc
}

func balanceUpdater(ctx context.Context, qc any, action domain.Action, block domain.Block) error {
	mqc := qc.(*memory.QueryContext)
	mqc.Set("applied", action.TransactionID, block.Number)
	return nil
}

func TestPipeline_HappyPath(t *testing.T) {
	fc := linearChain(1, 5, true)
	store := memory.New()
	r := reader.New(fc, reader.Config{StartAtBlock: 1}, nil)
	h := handler.New(store,
		[]handler.UpdaterRegistration{{ActionType: "transfer", Fn: balanceUpdater}},
		nil, nil, handler.Config{StartAtBlock: 1}, nil)
	w := watcher.New(r, h, watcher.Config{}, nil)

	for i := 0; i < 5; i++ {
		if err := w.CheckForBlocks(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	state, ok, err := h.LoadIndexState(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected index state, got ok=%v err=%v", ok, err)
	}
	if state.BlockNumber != 5 || state.BlockHash != hashOf(5) {
		t.Fatalf("unexpected final state: %+v", state)
	}
}

func TestPipeline_ShallowForkTriggersRollback(t *testing.T) {
	fc := linearChain(1, 3, true)
	store := memory.New()
	r := reader.New(fc, reader.Config{StartAtBlock: 1, HistoryWindow: 10}, nil)
	h := handler.New(store,
		[]handler.UpdaterRegistration{{ActionType: "transfer", Fn: balanceUpdater}},
		nil, nil, handler.Config{StartAtBlock: 1}, nil)
	w := watcher.New(r, h, watcher.Config{}, nil)

	for i := 0; i < 3; i++ {
		if err := w.CheckForBlocks(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	// Reorg at block 2: new 2', 3', and a 4' that extends past the old
	// head so the reader actually fetches past the fork point and
	// notices the parent-hash mismatch.
	fc.set(domain.Block{Number: 2, Hash: "h2p", PreviousHash: hashOf(1),
		Actions: []domain.Action{{Type: "transfer", TransactionID: "tx2p"}}})
	fc.set(domain.Block{Number: 3, Hash: "h3p", PreviousHash: "h2p",
		Actions: []domain.Action{{Type: "transfer", TransactionID: "tx3p"}}})
	fc.set(domain.Block{Number: 4, Hash: "h4p", PreviousHash: "h3p",
		Actions: []domain.Action{{Type: "transfer", TransactionID: "tx4p"}}})

	// This iteration observes the rollback event and rolls the handler back.
	if err := w.CheckForBlocks(context.Background()); err != nil {
		t.Fatalf("rollback iteration: %v", err)
	}
	// These three re-apply the canonical fork blocks.
	for i := 0; i < 3; i++ {
		if err := w.CheckForBlocks(context.Background()); err != nil {
			t.Fatalf("post-rollback iteration %d: %v", i, err)
		}
	}

	state, ok, err := h.LoadIndexState(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected index state, got ok=%v err=%v", ok, err)
	}
	if state.BlockNumber != 4 || state.BlockHash != "h4p" {
		t.Fatalf("expected cursor on the new fork at block 4, got %+v", state)
	}
}

func TestPipeline_SuppressesEffectsDuringReplayThenDeliversLive(t *testing.T) {
	fc := linearChain(1, 6, true)
	store := memory.New()
	disp := effects.New(effects.Config{Mode: effects.Await}, nil, nil, nil)

	var delivered []uint64
	effectFn := func(ctx context.Context, action domain.Action, b domain.Block) error {
		delivered = append(delivered, b.Number)
		return nil
	}

	r := reader.New(fc, reader.Config{StartAtBlock: 1}, nil)
	h := handler.New(store,
		[]handler.UpdaterRegistration{{ActionType: "transfer", Fn: balanceUpdater}},
		[]handler.EffectRegistration{{ActionType: "transfer", Fn: effectFn}},
		disp, handler.Config{StartAtBlock: 1, MaxReplayTarget: 4}, nil)
	w := watcher.New(r, h, watcher.Config{}, nil)

	for i := 0; i < 6; i++ {
		if err := w.CheckForBlocks(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	want := []uint64{5, 6}
	if len(delivered) != len(want) {
		t.Fatalf("expected effects only for blocks 5-6, got %v", delivered)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("expected effects only for blocks 5-6, got %v", delivered)
		}
	}
}
