// Package metrics exposes the Prometheus series demux publishes for
// block application, rollbacks, and effect dispatch, grounded on the
// teacher's internal/indexing/metrics/metrics.go (same promauto
// constructors, same chain-label convention).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksApplied tracks blocks successfully committed per chain.
	BlocksApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_blocks_applied_total",
			Help: "Total number of blocks applied to the index",
		},
		[]string{"chain"},
	)

	// Rollbacks tracks rollback invocations per chain; the depth of each
	// rollback is recorded separately in RollbackDepth.
	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_rollbacks_total",
			Help: "Total number of rollbacks performed",
		},
		[]string{"chain"},
	)

	// RollbackDepth records how many blocks each rollback unwound.
	RollbackDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demux_rollback_depth_blocks",
			Help:    "Number of blocks unwound per rollback",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"chain"},
	)

	// CommitLatency tracks handler.HandleBlock transaction latency.
	CommitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demux_commit_latency_seconds",
			Help:    "Latency of applying and committing a block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// IndexedBlock tracks the latest block number committed to IndexState.
	IndexedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "demux_indexed_block",
			Help: "Latest block number committed to the index",
		},
		[]string{"chain"},
	)

	// ChainHeadBlock tracks the latest block number observed from the
	// chain adapter.
	ChainHeadBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "demux_chain_head_block",
			Help: "Latest block number observed on the chain",
		},
		[]string{"chain"},
	)

	// ReplayActive reports 1 while the index is still behind the replay
	// boundary (effects suppressed), 0 once live.
	ReplayActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "demux_replay_active",
			Help: "1 while effects are suppressed for replay, 0 once live",
		},
		[]string{"chain"},
	)

	// EffectsEnqueued tracks effects handed to the dispatcher per action type.
	EffectsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_effects_enqueued_total",
			Help: "Total number of effects enqueued for dispatch",
		},
		[]string{"chain", "action_type"},
	)

	// EffectsSucceeded tracks effects that ran without error.
	EffectsSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_effects_succeeded_total",
			Help: "Total number of effects that completed without error",
		},
		[]string{"chain", "action_type"},
	)

	// EffectsFailed tracks effects that returned an error (each is also
	// recorded to the dead-letter sink when one is configured).
	EffectsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_effects_failed_total",
			Help: "Total number of effects that failed",
		},
		[]string{"chain", "action_type"},
	)

	// EffectQueueDepth tracks the current depth of each action type's
	// dispatch lane.
	EffectQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "demux_effect_queue_depth",
			Help: "Current number of queued effects per action type lane",
		},
		[]string{"chain", "action_type"},
	)

	// ReaderFetchErrors tracks transient chain-adapter errors observed
	// by the reader, by classified kind.
	ReaderFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demux_reader_fetch_errors_total",
			Help: "Total number of chain adapter fetch errors observed",
		},
		[]string{"chain", "kind"},
	)
)

// Recorder adapts the package-level series to a single chain label,
// and satisfies effects.MetricsRecorder.
type Recorder struct {
	chain string
}

// NewRecorder returns a Recorder scoped to chain.
func NewRecorder(chain string) *Recorder { return &Recorder{chain: chain} }

func (r *Recorder) EffectEnqueued(actionType string) {
	EffectsEnqueued.WithLabelValues(r.chain, actionType).Inc()
	EffectQueueDepth.WithLabelValues(r.chain, actionType).Inc()
}

func (r *Recorder) EffectSucceeded(actionType string) {
	EffectsSucceeded.WithLabelValues(r.chain, actionType).Inc()
	EffectQueueDepth.WithLabelValues(r.chain, actionType).Dec()
}

func (r *Recorder) EffectFailed(actionType string) {
	EffectsFailed.WithLabelValues(r.chain, actionType).Inc()
	EffectQueueDepth.WithLabelValues(r.chain, actionType).Dec()
}

func (r *Recorder) QueueDepth(actionType string, depth int) {
	EffectQueueDepth.WithLabelValues(r.chain, actionType).Set(float64(depth))
}
