// Package handler implements the Action Handler: the transactional
// updater-application and rollback engine that keeps the datastore's
// IndexState cursor consistent with the chain (spec.md §4.2).
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainflux/demux/internal/datastore"
	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/metrics"
)

// EffectJob is one action whose registered effect funcs are due for
// asynchronous dispatch after the block that produced it committed.
type EffectJob struct {
	Block  domain.Block
	Action domain.Action
	Funcs  []EffectFunc
}

// Dispatcher hands EffectJobs off to the effect lane (internal/effects
// implements it). Handler never blocks on effect completion itself;
// whether Dispatch blocks the caller is a property of the dispatcher's
// configured effectRunMode.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobs []EffectJob) error
}

// Config configures a Handler (spec.md §6 "Configuration").
type Config struct {
	// ChainName labels the metrics this Handler emits.
	ChainName string
	// StartAtBlock must match the Reader's StartAtBlock; used to
	// validate the first block applied when no IndexState exists yet.
	StartAtBlock uint64
	// MaxReplayTarget is the chain head observed at process start, or
	// a pinned value for deterministic test replays (spec.md §4.2
	// "Replay semantics").
	MaxReplayTarget uint64
}

func (c Config) withDefaults() Config {
	if c.StartAtBlock == 0 {
		c.StartAtBlock = 1
	}
	return c
}

// Handler is the Action Handler (spec.md §4.2).
type Handler struct {
	cfg    Config
	store  datastore.Store
	reg    *registry
	disp   Dispatcher
	replay *replayGate
	log    *slog.Logger
}

// New constructs a Handler. dispatcher may be nil when no effects are
// registered; HandleBlock then skips effect enqueueing entirely.
func New(store datastore.Store, updaters []UpdaterRegistration, effects []EffectRegistration, dispatcher Dispatcher, cfg Config, log *slog.Logger) *Handler {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg:    cfg,
		store:  store,
		reg:    newRegistry(updaters, effects),
		disp:   dispatcher,
		replay: newReplayGate(cfg.MaxReplayTarget),
		log:    log,
	}
}

// LoadIndexState reads the persisted cursor, from which the Reader's
// starting point is derived at startup. ok is false when no cursor has
// been written yet.
func (h *Handler) LoadIndexState(ctx context.Context) (state domain.IndexState, ok bool, err error) {
	tx, err := h.store.BeginTransaction(ctx)
	if err != nil {
		return domain.IndexState{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer h.store.Rollback(ctx, tx)

	return h.store.ReadIndexState(ctx, tx)
}

// HandleBlock applies block's actions transactionally and, once
// committed, enqueues effects for dispatch when isReplay is false
// (spec.md §4.2 "Apply algorithm").
func (h *Handler) HandleBlock(ctx context.Context, block domain.Block) error {
	start := time.Now()
	defer func() {
		metrics.CommitLatency.WithLabelValues(h.cfg.ChainName).Observe(time.Since(start).Seconds())
	}()

	tx, err := h.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", domain.ErrDatastoreUnavailable, err)
	}
	committed := false
	defer func() {
		if !committed {
			h.store.Rollback(ctx, tx)
		}
	}()

	prior, hasPrior, err := h.store.ReadIndexState(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: read index state: %v", domain.ErrDatastoreUnavailable, err)
	}
	if err := validateSequencing(block, prior, hasPrior, h.cfg.StartAtBlock); err != nil {
		return err
	}

	isReplay := h.replay.isReplay(block.Number)

	qc := h.store.Context(tx)
	for _, action := range block.Actions {
		for _, fn := range h.reg.updatersFor(action.Type) {
			if err := fn(ctx, qc, action, block); err != nil {
				return fmt.Errorf("apply updater for action %q (tx %s#%d): %w", action.Type, action.TransactionID, action.ActionIndex, err)
			}
		}
	}

	next := prior.Next(block.Number, block.Hash, isReplay)
	if err := h.store.WriteIndexState(ctx, tx, next); err != nil {
		return fmt.Errorf("%w: write index state: %v", domain.ErrDatastoreUnavailable, err)
	}

	if err := h.store.Commit(ctx, tx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCommitFailed, err)
	}
	committed = true

	metrics.BlocksApplied.WithLabelValues(h.cfg.ChainName).Inc()
	metrics.IndexedBlock.WithLabelValues(h.cfg.ChainName).Set(float64(block.Number))
	if isReplay {
		metrics.ReplayActive.WithLabelValues(h.cfg.ChainName).Set(1)
	} else {
		metrics.ReplayActive.WithLabelValues(h.cfg.ChainName).Set(0)
	}

	h.log.Debug("block applied", "block", block.Number, "hash", block.Hash, "replay", isReplay, "actions", len(block.Actions))

	if !isReplay {
		h.enqueueEffects(ctx, block)
	}
	return nil
}

// validateSequencing implements spec.md §4.2 step 2.
func validateSequencing(block domain.Block, prior domain.IndexState, hasPrior bool, startAtBlock uint64) error {
	if !hasPrior {
		if block.Number != startAtBlock {
			return fmt.Errorf("%w: first block %d does not match startAtBlock %d", domain.ErrOutOfOrderBlock, block.Number, startAtBlock)
		}
		return nil
	}
	if block.Number != prior.BlockNumber+1 {
		return fmt.Errorf("%w: block %d does not follow cursor at %d", domain.ErrOutOfOrderBlock, block.Number, prior.BlockNumber)
	}
	if block.PreviousHash != prior.BlockHash {
		return fmt.Errorf("%w: block %d previous hash %q does not match cursor hash %q", domain.ErrHashMismatch, block.Number, block.PreviousHash, prior.BlockHash)
	}
	return nil
}

func (h *Handler) enqueueEffects(ctx context.Context, block domain.Block) {
	if h.disp == nil || !h.reg.hasEffects() {
		return
	}
	var jobs []EffectJob
	for _, action := range block.Actions {
		fns := h.reg.effectsFor(action.Type)
		if len(fns) == 0 {
			continue
		}
		jobs = append(jobs, EffectJob{Block: block, Action: action, Funcs: fns})
	}
	if len(jobs) == 0 {
		return
	}
	if err := h.disp.Dispatch(ctx, jobs); err != nil {
		h.log.Error("effect dispatch failed", "block", block.Number, "error", err)
	}
}

// RollbackTo restores derived state to the snapshot as of block
// target-1 and resets IndexState accordingly (spec.md §4.2 "Rollback
// semantics"). The store must implement datastore.SnapshotStore; a
// store that doesn't is a configuration error, not a transient one.
func (h *Handler) RollbackTo(ctx context.Context, target uint64) error {
	snap, ok := h.store.(datastore.SnapshotStore)
	if !ok {
		return errors.New("handler: rollback requires a datastore implementing SnapshotStore")
	}

	tx, err := h.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", domain.ErrDatastoreUnavailable, err)
	}
	committed := false
	defer func() {
		if !committed {
			h.store.Rollback(ctx, tx)
		}
	}()

	var restoreTo uint64
	if target > 0 {
		restoreTo = target - 1
	}
	if err := snap.RestoreSnapshot(ctx, tx, restoreTo); err != nil {
		return fmt.Errorf("restore snapshot to block %d: %w", restoreTo, err)
	}

	if err := h.store.Commit(ctx, tx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCommitFailed, err)
	}
	committed = true

	h.log.Warn("rolled back", "target", target, "restored_to", restoreTo)
	return nil
}
