package health

import (
	"context"
	"sync"
	"time"

	"github.com/chainflux/demux/internal/domain"
)

// IndexStateSource reports the current durable cursor, grounded on
// handler.Handler.LoadIndexState.
type IndexStateSource interface {
	LoadIndexState(ctx context.Context) (domain.IndexState, bool, error)
}

// ChainHeadSource reports the chain's observed head, grounded on
// chain.Adapter.GetHeadBlockNumber.
type ChainHeadSource interface {
	GetHeadBlockNumber(ctx context.Context) (uint64, error)
}

// QueueDepthSource reports the effect dispatcher's total pending
// depth, grounded on effects.Dispatcher.
type QueueDepthSource interface {
	Depth() int
}

// Monitor aggregates demux's health from its running components, in
// the same minimum-interval rate-limited style as the teacher's
// Monitor.CheckHealth (to avoid spamming the chain adapter on every
// health probe).
type Monitor struct {
	indexState IndexStateSource
	chainHead  ChainHeadSource
	queue      QueueDepthSource

	minInterval time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor constructs a Monitor. queue may be nil if no effect
// dispatcher is wired.
func NewMonitor(indexState IndexStateSource, chainHead ChainHeadSource, queue QueueDepthSource) *Monitor {
	return &Monitor{indexState: indexState, chainHead: chainHead, queue: queue, minInterval: 5 * time.Second}
}

// Check returns the current Report, reusing the last one if computed
// within minInterval.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < m.minInterval && !m.lastReport.Status.isZero() {
		return m.lastReport
	}

	var r Report
	r.DatastoreUp = true

	state, ok, err := m.indexState.LoadIndexState(ctx)
	if err != nil {
		r.DatastoreUp = false
	} else if ok {
		r.IndexedBlock = state.BlockNumber
		r.IsReplay = state.IsReplay
	}

	head, err := m.chainHead.GetHeadBlockNumber(ctx)
	if err != nil {
		r.ChainAdapterUp = false
	} else {
		r.ChainAdapterUp = true
		r.ChainHead = head
		if head > r.IndexedBlock {
			r.BlockLag = head - r.IndexedBlock
		}
	}

	if m.queue != nil {
		r.EffectQueue = m.queue.Depth()
	}

	r.Status = r.evaluate()

	m.lastCheck = time.Now()
	m.lastReport = r
	return r
}

func (s SystemStatus) isZero() bool { return s == "" }
