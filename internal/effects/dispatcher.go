package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chainflux/demux/internal/handler"
)

// Config configures a Dispatcher.
type Config struct {
	// Mode selects FireAndForget or Await (default FireAndForget).
	Mode RunMode
	// LaneBuffer bounds the per-action-type queue depth in
	// FireAndForget mode (default 64).
	LaneBuffer int
}

func (c Config) withDefaults() Config {
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 64
	}
	return c
}

// Dispatcher is the effect dispatch lane. It satisfies
// handler.Dispatcher. Ordering guarantee (spec.md §5): a dedicated
// goroutine per action type preserves enqueue order within that type;
// different types run concurrently and may interleave.
type Dispatcher struct {
	cfg  Config
	sink DeadLetterSink
	rec  MetricsRecorder
	log  *slog.Logger

	mu    sync.Mutex
	lanes map[string]chan job
	wg    sync.WaitGroup

	closing bool
}

// New constructs a Dispatcher. sink and rec may be nil.
func New(cfg Config, sink DeadLetterSink, rec MetricsRecorder, log *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		rec:   rec,
		log:   log,
		lanes: make(map[string]chan job),
	}
}

// Dispatch implements handler.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []handler.EffectJob) error {
	if d.cfg.Mode == Await {
		return d.runSync(ctx, jobs)
	}
	return d.enqueue(ctx, jobs)
}

func (d *Dispatcher) runSync(ctx context.Context, jobs []handler.EffectJob) error {
	var firstErr error
	for _, j := range jobs {
		if err := d.run(ctx, j.Action.Type, job{block: j.Block, action: j.Action, fns: j.Funcs}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) enqueue(ctx context.Context, jobs []handler.EffectJob) error {
	for _, j := range jobs {
		lane := d.laneFor(j.Action.Type)
		select {
		case lane <- job{block: j.Block, action: j.Action, fns: j.Funcs}:
			d.rec.EffectEnqueued(j.Action.Type)
			d.rec.QueueDepth(j.Action.Type, len(lane))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// laneFor returns the channel + worker goroutine for actionType,
// creating both lazily on first use.
func (d *Dispatcher) laneFor(actionType string) chan job {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.lanes[actionType]; ok {
		return ch
	}
	ch := make(chan job, d.cfg.LaneBuffer)
	d.lanes[actionType] = ch
	d.wg.Add(1)
	go d.runLane(actionType, ch)
	return ch
}

func (d *Dispatcher) runLane(actionType string, ch chan job) {
	defer d.wg.Done()
	for j := range ch {
		_ = d.run(context.Background(), actionType, j)
	}
}

func (d *Dispatcher) run(ctx context.Context, actionType string, j job) error {
	var lastErr error
	for _, fn := range j.fns {
		if err := fn(ctx, j.action, j.block); err != nil {
			lastErr = err
			d.rec.EffectFailed(actionType)
			d.log.Error("effect failed", "action_type", actionType, "tx", j.action.TransactionID, "block", j.block.Number, "error", err)
			if d.sink != nil {
				fe := FailedEffect{
					ActionType:    actionType,
					TransactionID: j.action.TransactionID,
					BlockNumber:   j.block.Number,
					Err:           err.Error(),
				}
				if rerr := d.sink.Record(ctx, fe); rerr != nil {
					d.log.Error("failed to record dead-lettered effect", "error", rerr)
				}
			}
			continue
		}
		d.rec.EffectSucceeded(actionType)
	}
	return lastErr
}

// Depth returns the total number of jobs currently buffered across
// all action-type lanes, for health reporting.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, ch := range d.lanes {
		total += len(ch)
	}
	return total
}

// Stop drains in-flight lanes, waiting up to timeout for workers to
// finish (spec.md §5 supplemented "Graceful shutdown draining the
// effect queue"). No further Dispatch calls are permitted after Stop.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	for _, ch := range d.lanes {
		close(ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
