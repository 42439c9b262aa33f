// Package app wires demux's configured chains into running
// Reader/Handler/Watcher triples plus the shared health server,
// grounded on the teacher's internal/control.Watcher (same
// construct-then-Start/Stop lifecycle, same one-goroutine-per-chain
// fan-out), adapted from the teacher's multi-repository indexer
// pipeline to demux's single Reader/Handler/Watcher triple per chain.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflux/demux/internal/chain"
	"github.com/chainflux/demux/internal/chain/evmrpc"
	"github.com/chainflux/demux/internal/chain/grpcchain"
	"github.com/chainflux/demux/internal/config"
	"github.com/chainflux/demux/internal/datastore"
	"github.com/chainflux/demux/internal/datastore/memory"
	"github.com/chainflux/demux/internal/datastore/postgres"
	"github.com/chainflux/demux/internal/effects"
	"github.com/chainflux/demux/internal/handler"
	"github.com/chainflux/demux/internal/health"
	"github.com/chainflux/demux/internal/metrics"
	"github.com/chainflux/demux/internal/reader"
	"github.com/chainflux/demux/internal/watcher"
)

// Registrar supplies the per-chain updater and effect registrations;
// callers of demux provide one (there is no generic registration
// discoverable from config alone, since updaters are domain code).
type Registrar interface {
	UpdatersFor(chainName string) []handler.UpdaterRegistration
	EffectsFor(chainName string) []handler.EffectRegistration
}

// chainRuntime bundles one chain's running components.
type chainRuntime struct {
	name    string
	watcher *watcher.Watcher
	handler *handler.Handler
	chain   chain.Adapter
	disp    *effects.Dispatcher
}

// App is demux's process supervisor.
type App struct {
	cfg      config.AppConfig
	reg      Registrar
	log      *slog.Logger
	pgDB     *postgres.Store
	runtimes []chainRuntime

	healthServer *health.Server
	redisClient  *redis.Client

	cancel context.CancelFunc
}

// New constructs an App from configuration, opening the datastore and
// constructing one Reader/Handler/Watcher triple per configured chain.
func New(ctx context.Context, cfg config.AppConfig, reg Registrar, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, reg: reg, log: log}

	var pg *postgres.Store
	if cfg.Database.URL != "" {
		var err error
		pg, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.pgDB = pg
		log.Info("using postgres datastore")
	} else {
		log.Info("using in-memory datastore")
	}

	if cfg.Redis.Addr != "" {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var monitorSources []health.QueueDepthSource
	var primaryHead health.ChainHeadSource
	var primaryIndex health.IndexStateSource

	for _, chainCfg := range cfg.Chains {
		var store datastore.Store
		if pg != nil {
			store = pg.Chain(chainCfg.Name)
		} else {
			store = memory.New()
		}

		rt, err := a.buildChain(ctx, chainCfg, store)
		if err != nil {
			return nil, fmt.Errorf("build chain %s: %w", chainCfg.Name, err)
		}
		a.runtimes = append(a.runtimes, rt)
		monitorSources = append(monitorSources, rt.disp)
		if primaryHead == nil {
			primaryHead = rt.chain
			primaryIndex = rt.handler
		}
	}

	if primaryHead != nil {
		var qd health.QueueDepthSource
		if len(monitorSources) > 0 {
			qd = monitorSources[0]
		}
		monitor := health.NewMonitor(primaryIndex, primaryHead, qd)
		a.healthServer = health.NewServer(monitor, cfg.Server.Port)
	}

	return a, nil
}

func (a *App) buildChain(ctx context.Context, cfg config.ChainConfig, store datastore.Store) (chainRuntime, error) {
	var adapter chain.Adapter
	switch cfg.Adapter {
	case "grpc":
		c, err := grpcchain.Dial(context.Background(), grpcchain.Config{
			Endpoint:    cfg.GRPC.Endpoint,
			DialTimeout: cfg.GRPC.DialTimeout,
		})
		if err != nil {
			return chainRuntime{}, err
		}
		adapter = c
	default:
		adapter = evmrpc.New(evmrpc.Config{Endpoint: cfg.EVMRPC.Endpoint, Timeout: cfg.EVMRPC.Timeout})
	}

	var sink effects.DeadLetterSink
	if a.redisClient != nil {
		sink = effects.NewRedisDeadLetterSink(a.redisClient, cfg.Name)
	}
	rec := metrics.NewRecorder(cfg.Name)

	disp := effects.New(effects.Config{
		Mode:       cfg.EffectRunModeValue(),
		LaneBuffer: cfg.LaneBuffer,
	}, sink, rec, a.log.With("chain", cfg.Name))

	// maxReplayTarget is the chain head observed at process start unless
	// pinned explicitly in config (spec.md §4.2).
	maxReplayTarget := cfg.MaxReplayTarget
	if maxReplayTarget == 0 {
		head, err := adapter.GetHeadBlockNumber(ctx)
		if err != nil {
			return chainRuntime{}, fmt.Errorf("resolve replay boundary for chain %s: %w", cfg.Name, err)
		}
		maxReplayTarget = head
	}

	h := handler.New(store,
		a.reg.UpdatersFor(cfg.Name),
		a.reg.EffectsFor(cfg.Name),
		disp,
		handler.Config{ChainName: cfg.Name, StartAtBlock: cfg.StartAtBlock, MaxReplayTarget: maxReplayTarget},
		a.log.With("chain", cfg.Name),
	)

	r := reader.New(adapter, reader.Config{
		ChainName:        cfg.Name,
		StartAtBlock:     cfg.StartAtBlock,
		OnlyIrreversible: cfg.OnlyIrreversible,
		HistoryWindow:    cfg.HistoryWindow,
	}, a.log.With("chain", cfg.Name))

	// Resume after the persisted cursor, if any, rather than StartAtBlock.
	state, ok, err := h.LoadIndexState(ctx)
	if err != nil {
		return chainRuntime{}, fmt.Errorf("load index state for chain %s: %w", cfg.Name, err)
	}
	if ok {
		r.SeekToBlock(state.BlockNumber + 1)
	}

	w := watcher.New(r, h, watcher.Config{
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
	}, a.log.With("chain", cfg.Name))

	return chainRuntime{name: cfg.Name, watcher: w, handler: h, chain: adapter, disp: disp}, nil
}

// Start launches the health server and every chain's watcher loop in
// its own goroutine.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil {
				a.log.Error("health server failed", "error", err)
			}
		}()
	}

	for _, rt := range a.runtimes {
		rt := rt
		go func() {
			a.log.Info("starting watcher", "chain", rt.name)
			if err := rt.watcher.Watch(ctx); err != nil {
				a.log.Error("watcher exited", "chain", rt.name, "error", err)
			}
		}()
	}

	return nil
}

// Stop signals every watcher to exit, drains effect dispatchers, and
// shuts down the health server, all bounded by ctx's deadline.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	remaining := 15 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		remaining = time.Until(dl)
	}

	for _, rt := range a.runtimes {
		if err := rt.disp.Stop(remaining); err != nil {
			a.log.Warn("effect dispatcher did not drain in time", "chain", rt.name, "error", err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	}

	if a.pgDB != nil {
		if err := a.pgDB.Close(); err != nil {
			a.log.Warn("failed to close postgres", "error", err)
		}
	}

	if a.healthServer != nil {
		return a.healthServer.Stop(ctx)
	}
	return nil
}
