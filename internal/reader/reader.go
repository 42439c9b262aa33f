// Package reader implements the Action Reader: the state machine that
// walks the chain forward, detects forks, and emits rollback signals
// (spec.md §4.1).
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chainflux/demux/internal/chain"
	"github.com/chainflux/demux/internal/domain"
	"github.com/chainflux/demux/internal/metrics"
)

// EventKind discriminates the three shapes a Reader call can return.
type EventKind int

const (
	// EventNoNewBlock means the head is caught up; the caller should
	// back off.
	EventNoNewBlock EventKind = iota
	// EventNewBlock carries the next canonical block after the
	// current head.
	EventNewBlock
	// EventRollback signals that the Handler must roll back to and
	// including RollbackTarget-1, discarding blocks >= RollbackTarget.
	EventRollback
)

// Event is the single return value of GetNextBlock.
type Event struct {
	Kind           EventKind
	Block          domain.Block
	RollbackTarget uint64
}

// Config configures a Reader (spec.md §6 "Configuration").
type Config struct {
	// ChainName labels the metrics this Reader emits.
	ChainName string
	// StartAtBlock is the first block to ingest. Default 1.
	StartAtBlock uint64
	// OnlyIrreversible gates fetches on the chain's last-irreversible
	// block number, eliminating forks by construction. Default false.
	OnlyIrreversible bool
	// HistoryWindow is the fork-detection depth K. Default 180.
	HistoryWindow int
}

func (c Config) withDefaults() Config {
	if c.StartAtBlock == 0 {
		c.StartAtBlock = 1
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 180
	}
	return c
}

// Reader is the Action Reader (spec.md §4.1).
type Reader struct {
	cfg     Config
	adapter chain.Adapter
	log     *slog.Logger

	initialized bool
	pendingFrom uint64 // block to fetch on the next call when !initialized
	head        entry
	hist        *history
}

// New creates a Reader against the given chain adapter.
func New(adapter chain.Adapter, cfg Config, log *slog.Logger) *Reader {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Reader{
		cfg:         cfg,
		adapter:     adapter,
		log:         log,
		pendingFrom: cfg.StartAtBlock,
		hist:        newHistory(cfg.HistoryWindow),
	}
}

// SeekToBlock resets the cursor to n-1 so the next GetNextBlock call
// returns block n. It clears the HistoryWindow (spec.md §4.1).
func (r *Reader) SeekToBlock(n uint64) {
	r.initialized = false
	r.pendingFrom = n
	r.head = entry{}
	r.hist.reset()
}

// GetNextBlock returns the next ReaderEvent (spec.md §4.1).
func (r *Reader) GetNextBlock(ctx context.Context) (Event, error) {
	limit, err := r.fetchLimit(ctx)
	if err != nil {
		return Event{}, err
	}

	if !r.initialized {
		return r.initialize(ctx, limit)
	}
	return r.advance(ctx, limit)
}

// fetchLimit returns the highest block number the Reader is currently
// permitted to return: the irreversible block number when the gate is
// enabled, otherwise the chain head.
func (r *Reader) fetchLimit(ctx context.Context) (uint64, error) {
	if r.cfg.OnlyIrreversible {
		irr, ok := r.adapter.(chain.IrreversibleAdapter)
		if !ok {
			return 0, fmt.Errorf("onlyIrreversible requires an IrreversibleAdapter: %w", domain.ErrChainUnreachable)
		}
		lib, err := irr.GetIrreversibleBlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("get irreversible block number: %w", err)
		}
		return lib, nil
	}
	head, err := r.adapter.GetHeadBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get head block number: %w", err)
	}
	metrics.ChainHeadBlock.WithLabelValues(r.cfg.ChainName).Set(float64(head))
	return head, nil
}

func (r *Reader) initialize(ctx context.Context, limit uint64) (Event, error) {
	target := r.pendingFrom
	if limit < target {
		return Event{Kind: EventNoNewBlock}, nil
	}

	block, err := r.adapter.GetBlock(ctx, target)
	if err != nil {
		return Event{}, r.classifyFetchError(target, err)
	}

	r.hist.push(block.Number, block.Hash)
	r.head = entry{number: block.Number, hash: block.Hash}
	r.initialized = true

	r.log.Debug("reader initialized", "block", block.Number, "hash", block.Hash)
	return Event{Kind: EventNewBlock, Block: block}, nil
}

func (r *Reader) advance(ctx context.Context, limit uint64) (Event, error) {
	target := r.head.number + 1
	if limit < target {
		return Event{Kind: EventNoNewBlock}, nil
	}

	candidate, err := r.adapter.GetBlock(ctx, target)
	if err != nil {
		return Event{}, r.classifyFetchError(target, err)
	}

	if candidate.PreviousHash == r.head.hash {
		r.hist.push(candidate.Number, candidate.Hash)
		r.head = entry{number: candidate.Number, hash: candidate.Hash}
		return Event{Kind: EventNewBlock, Block: candidate}, nil
	}

	return r.rewind(ctx)
}

// rewind implements the fork-resolution walk of spec.md §4.1 step 4:
// walk HistoryWindow backwards, refetching each stored height from the
// chain, until the stored hash matches the on-chain hash. That height
// becomes the new head; the caller must roll back to (and discarding)
// the height after it.
func (r *Reader) rewind(ctx context.Context) (Event, error) {
	var safe entry
	var fetchErr error
	found := false
	priorHead := r.head.number

	r.hist.walkBack(func(e entry) bool {
		onChain, err := r.adapter.GetBlock(ctx, e.number)
		if err != nil {
			// Surface as-is: this is a transient fetch error, not
			// evidence the fork runs deeper than the history window.
			// The caller retries the whole GetNextBlock call.
			fetchErr = r.classifyFetchError(e.number, err)
			return false
		}
		if onChain.Hash == e.hash {
			safe = e
			found = true
			return false
		}
		return true
	})

	if fetchErr != nil {
		return Event{}, fetchErr
	}

	if !found {
		return Event{}, fmt.Errorf("%w: fork deeper than history window (%d)", domain.ErrReorgTooDeep, r.cfg.HistoryWindow)
	}

	depth := priorHead - safe.number
	r.hist.truncateAfter(safe.number)
	r.head = safe

	metrics.Rollbacks.WithLabelValues(r.cfg.ChainName).Inc()
	metrics.RollbackDepth.WithLabelValues(r.cfg.ChainName).Observe(float64(depth))

	r.log.Warn("reorg detected", "safe_block", safe.number, "rollback_target", safe.number+1, "depth", depth)
	return Event{Kind: EventRollback, RollbackTarget: safe.number + 1}, nil
}

func (r *Reader) classifyFetchError(target uint64, err error) error {
	if errors.Is(err, domain.ErrBlockNotFound) {
		// The chain's own head/LIB reported this height as available
		// but GetBlock couldn't produce it: an inconsistent response.
		metrics.ReaderFetchErrors.WithLabelValues(r.cfg.ChainName, "block_not_found").Inc()
		return fmt.Errorf("block %d: %w", target, domain.ErrBlockNotFound)
	}
	metrics.ReaderFetchErrors.WithLabelValues(r.cfg.ChainName, "transient").Inc()
	return fmt.Errorf("fetch block %d: %w", target, err)
}

// Head returns the last returned (number, hash), for diagnostics.
func (r *Reader) Head() (number uint64, hash string, ok bool) {
	if !r.initialized {
		return 0, "", false
	}
	return r.head.number, r.head.hash, true
}
