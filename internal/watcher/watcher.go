// Package watcher implements the Action Watcher: the polling loop
// that drives the Reader/Handler pair and surfaces fatal errors
// (spec.md §4.3).
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/reader"
)

// Reader is the capability the Watcher drives for block events.
type Reader interface {
	GetNextBlock(ctx context.Context) (reader.Event, error)
}

// Handler is the capability the Watcher drives to apply and roll back
// blocks.
type Handler interface {
	HandleBlock(ctx context.Context, block domain.Block) error
	RollbackTo(ctx context.Context, target uint64) error
}

// Config configures a Watcher (spec.md §6 "Configuration").
type Config struct {
	// PollInterval is the sleep between iterations when the reader has
	// no new block. Default 250ms.
	PollInterval time.Duration
	// MaxRetries bounds the backoff budget per block. Default 10.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	return c
}

// Watcher is the Action Watcher (spec.md §4.3).
type Watcher struct {
	cfg     Config
	reader  Reader
	handler Handler
	bo      backoff
	log     *slog.Logger

	paused atomic.Bool
}

// New constructs a Watcher.
func New(r Reader, h Handler, cfg Config, log *slog.Logger) *Watcher {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		reader:  r,
		handler: h,
		bo:      newBackoff(cfg.PollInterval, cfg.MaxRetries),
		log:     log,
	}
}

// Pause suspends polling; in-flight iterations finish normally.
func (w *Watcher) Pause() { w.paused.Store(true) }

// Resume resumes polling after Pause.
func (w *Watcher) Resume() { w.paused.Store(false) }

// Watch enters an indefinite loop until ctx is canceled or a fatal
// error occurs, in which case it logs and returns the error
// (spec.md §4.3 "Loop" step 5).
func (w *Watcher) Watch(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if w.paused.Load() {
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if err := w.CheckForBlocks(ctx); err != nil {
			var fatal *FatalHandlerError
			if errors.As(err, &fatal) {
				w.log.Error("watcher exiting on fatal error", "error", err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("watcher iteration failed", "error", err)
			return err
		}
	}
}

// CheckForBlocks runs a single loop iteration (spec.md §4.3 "Public
// contract"): fetch the next reader event and act on it.
func (w *Watcher) CheckForBlocks(ctx context.Context) error {
	ev, err := w.readNext(ctx)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case reader.EventNewBlock:
		return w.applyWithRetry(ctx, ev.Block)
	case reader.EventRollback:
		return w.rollbackWithRetry(ctx, ev.RollbackTarget)
	case reader.EventNoNewBlock:
		return w.sleep(ctx)
	default:
		return nil
	}
}

// readNext fetches the next reader event, retrying transient chain
// errors with the same backoff budget as block application. A
// structural reader error (ReorgTooDeep) or any other non-transient
// error is fatal: the reader has no further recourse on its own.
func (w *Watcher) readNext(ctx context.Context) (reader.Event, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		ev, err := w.reader.GetNextBlock(ctx)
		if err == nil {
			return ev, nil
		}
		lastErr = err

		if !isTransient(err) {
			return reader.Event{}, &FatalHandlerError{Cause: err}
		}
		if w.bo.exhausted(attempt) {
			return reader.Event{}, &FatalHandlerError{Cause: lastErr}
		}
		w.log.Warn("reader error, retrying", "attempt", attempt, "error", err)
		if err := w.sleepFor(ctx, w.bo.delay(attempt)); err != nil {
			return reader.Event{}, err
		}
	}
}

func (w *Watcher) applyWithRetry(ctx context.Context, block domain.Block) error {
	var lastErr error
	updaterRetried := false
	for attempt := 0; ; attempt++ {
		err := w.handler.HandleBlock(ctx, block)
		if err == nil {
			return nil
		}
		lastErr = err

		if isTransient(err) {
			if w.bo.exhausted(attempt) {
				return &FatalHandlerError{Cause: lastErr}
			}
			w.log.Warn("block apply failed, retrying", "block", block.Number, "attempt", attempt, "error", err)
			if err := w.sleepFor(ctx, w.bo.delay(attempt)); err != nil {
				return err
			}
			continue
		}

		if isProtocol(err) {
			return &FatalHandlerError{Cause: err}
		}

		// Updater-thrown error (spec.md §7): retried exactly once
		// before escalating fatal.
		if updaterRetried {
			return &FatalHandlerError{Cause: lastErr}
		}
		updaterRetried = true
		w.log.Warn("updater error, retrying once", "block", block.Number, "error", err)
		if err := w.sleepFor(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (w *Watcher) rollbackWithRetry(ctx context.Context, target uint64) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := w.handler.RollbackTo(ctx, target)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return &FatalHandlerError{Cause: err}
		}
		if w.bo.exhausted(attempt) {
			return &FatalHandlerError{Cause: lastErr}
		}
		w.log.Warn("rollback failed, retrying", "target", target, "attempt", attempt, "error", err)
		if err := w.sleepFor(ctx, w.bo.delay(attempt)); err != nil {
			return err
		}
	}
}

func (w *Watcher) sleep(ctx context.Context) error {
	return w.sleepFor(ctx, w.cfg.PollInterval)
}

func (w *Watcher) sleepFor(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// isTransient reports whether err belongs to the retryable class of
// spec.md §7 (ChainUnreachable, DatastoreUnavailable, CommitFailed).
func isTransient(err error) bool {
	return errors.Is(err, domain.ErrChainUnreachable) ||
		errors.Is(err, domain.ErrDatastoreUnavailable) ||
		errors.Is(err, domain.ErrCommitFailed)
}

// isProtocol reports whether err is one of spec.md §7's protocol or
// structural errors: fatal on sight, never worth retrying since the
// block itself (or the reader's fork analysis) is the problem, not
// transient infrastructure.
func isProtocol(err error) bool {
	return errors.Is(err, domain.ErrHashMismatch) ||
		errors.Is(err, domain.ErrOutOfOrderBlock) ||
		errors.Is(err, domain.ErrMalformedBlock) ||
		errors.Is(err, domain.ErrBlockNotFound) ||
		errors.Is(err, domain.ErrReorgTooDeep) ||
		errors.Is(err, domain.ErrEffectsNotReversible)
}
