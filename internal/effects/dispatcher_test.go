package effects

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/handler"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []FailedEffect
}

func (s *recordingSink) Record(ctx context.Context, fe FailedEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, fe)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestDispatcher_AwaitRunsSynchronously(t *testing.T) {
	var mu sync.Mutex
	var order []string

	fn := func(label string) handler.EffectFunc {
		return func(ctx context.Context, action domain.Action, b domain.Block) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}

	d := New(Config{Mode: Await}, nil, nil, nil)
	jobs := []handler.EffectJob{
		{Action: domain.Action{Type: "mint", TransactionID: "tx1"}, Funcs: []handler.EffectFunc{fn("a"), fn("b")}},
	}

	if err := d.Dispatch(context.Background(), jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected funcs to run in registration order, got %v", order)
	}
}

func TestDispatcher_FireAndForgetDeliversAsync(t *testing.T) {
	done := make(chan struct{})
	fn := func(ctx context.Context, action domain.Action, b domain.Block) error {
		close(done)
		return nil
	}

	d := New(Config{Mode: FireAndForget, LaneBuffer: 4}, nil, nil, nil)
	jobs := []handler.EffectJob{
		{Action: domain.Action{Type: "mint", TransactionID: "tx1"}, Funcs: []handler.EffectFunc{fn}},
	}

	if err := d.Dispatch(context.Background(), jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("effect was not delivered")
	}

	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDispatcher_PreservesOrderPerActionType(t *testing.T) {
	var mu sync.Mutex
	var order []uint64

	fn := func(ctx context.Context, action domain.Action, b domain.Block) error {
		mu.Lock()
		order = append(order, b.Number)
		mu.Unlock()
		return nil
	}

	d := New(Config{Mode: FireAndForget, LaneBuffer: 16}, nil, nil, nil)
	var jobs []handler.EffectJob
	for n := uint64(1); n <= 10; n++ {
		jobs = append(jobs, handler.EffectJob{
			Block:  domain.Block{Number: n},
			Action: domain.Action{Type: "transfer", TransactionID: "tx"},
			Funcs:  []handler.EffectFunc{fn},
		})
	}
	if err := d.Dispatch(context.Background(), jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(order) != 10 {
		t.Fatalf("expected 10 deliveries, got %d", len(order))
	}
	for i, n := range order {
		if n != uint64(i+1) {
			t.Fatalf("expected in-order delivery, got %v", order)
		}
	}
}

func TestDispatcher_RecordsFailuresToDeadLetterSink(t *testing.T) {
	sink := &recordingSink{}
	fn := func(ctx context.Context, action domain.Action, b domain.Block) error {
		return errors.New("boom")
	}

	d := New(Config{Mode: FireAndForget, LaneBuffer: 4}, sink, nil, nil)
	jobs := []handler.EffectJob{
		{Action: domain.Action{Type: "mint", TransactionID: "tx1"}, Funcs: []handler.EffectFunc{fn}},
	}
	if err := d.Dispatch(context.Background(), jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("expected 1 dead-lettered effect, got %d", sink.count())
	}
}
