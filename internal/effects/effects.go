// Package effects implements the effect dispatch lane: the
// asynchronous delivery of non-deterministic side effects produced by
// committed blocks (spec.md §4.3, §5).
package effects

import (
	"context"

	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/handler"
)

// RunMode selects whether Dispatch blocks until effects complete
// (spec.md §6 "Configuration": effectRunMode).
type RunMode int

const (
	// FireAndForget enqueues jobs onto per-action-type lanes and
	// returns without waiting for them to run.
	FireAndForget RunMode = iota
	// Await runs jobs synchronously, in enqueue order, before
	// returning.
	Await
)

// FailedEffect describes one effect invocation that returned an
// error. Failed effects are recorded, never retried: effects are
// non-deterministic and at-most-once (spec.md §4.2 "Rollback
// semantics", §7 "EffectsNotReversible").
type FailedEffect struct {
	ActionType    string
	TransactionID string
	BlockNumber   uint64
	Err           string
}

// DeadLetterSink records failed effects for operator visibility.
type DeadLetterSink interface {
	Record(ctx context.Context, fe FailedEffect) error
}

// MetricsRecorder observes dispatch behavior. Implementations live in
// internal/metrics; a nil Recorder is replaced with a no-op.
type MetricsRecorder interface {
	EffectEnqueued(actionType string)
	EffectSucceeded(actionType string)
	EffectFailed(actionType string)
	QueueDepth(actionType string, depth int)
}

type noopMetrics struct{}

func (noopMetrics) EffectEnqueued(string)        {}
func (noopMetrics) EffectSucceeded(string)        {}
func (noopMetrics) EffectFailed(string)           {}
func (noopMetrics) QueueDepth(string, int)        {}

// job is the unit of work pushed onto a lane, carrying one action's
// registered effect funcs.
type job struct {
	block  domain.Block
	action domain.Action
	fns    []handler.EffectFunc
}
