package health

import (
	"context"
	"errors"
	"testing"

	"github.com/chainflux/demux/internal/domain"
)

type fakeIndexState struct {
	state domain.IndexState
	ok    bool
	err   error
}

func (f fakeIndexState) LoadIndexState(ctx context.Context) (domain.IndexState, bool, error) {
	return f.state, f.ok, f.err
}

type fakeChainHead struct {
	head uint64
	err  error
}

func (f fakeChainHead) GetHeadBlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.err
}

func TestMonitor_HealthyWhenCaughtUp(t *testing.T) {
	m := NewMonitor(
		fakeIndexState{state: domain.IndexState{BlockNumber: 100}, ok: true},
		fakeChainHead{head: 101},
		nil,
	)
	r := m.Check(context.Background())
	if r.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s (report %+v)", r.Status, r)
	}
	if r.BlockLag != 1 {
		t.Fatalf("expected lag 1, got %d", r.BlockLag)
	}
}

func TestMonitor_CriticalWhenChainUnreachable(t *testing.T) {
	m := NewMonitor(
		fakeIndexState{state: domain.IndexState{BlockNumber: 100}, ok: true},
		fakeChainHead{err: errors.New("boom")},
		nil,
	)
	r := m.Check(context.Background())
	if r.Status != StatusCritical {
		t.Fatalf("expected critical, got %s", r.Status)
	}
}

func TestMonitor_DegradedWhenLagging(t *testing.T) {
	m := NewMonitor(
		fakeIndexState{state: domain.IndexState{BlockNumber: 100}, ok: true},
		fakeChainHead{head: 115},
		nil,
	)
	r := m.Check(context.Background())
	if r.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", r.Status)
	}
}
