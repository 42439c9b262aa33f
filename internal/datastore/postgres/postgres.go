// Package postgres implements datastore.Store and datastore.SnapshotStore
// against PostgreSQL, grounded on the teacher's
// internal/infra/storage/postgres/{db,unit_of_work,postgres}.go. It
// wires pgx/v5's stdlib driver (the same driver registration the
// teacher's PostgresDB uses) through sqlx for query ergonomics (the
// teacher depends on both sqlx and pgx; this keeps both for the
// concerns they actually cover), and github.com/pressly/goose/v3 for
// schema migrations (teacher: internal/control/watcher.go's
// goose.SetDialect/goose.Up call).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/chainflux/demux/internal/datastore"
	"github.com/chainflux/demux/internal/domain"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	return c
}

// Store is a PostgreSQL-backed datastore.Store and datastore.SnapshotStore.
// Multiple chains share one connection pool but are isolated by the
// chain_name column carried on every row (spec.md §5 models each
// Reader/Handler/Watcher triple as single-chain, but nothing stops
// several triples from sharing a database).
type Store struct {
	db    *sqlx.DB
	chain string
}

// Chain returns a Store scoped to chain, sharing the same connection
// pool. Use one scoped Store per configured chain.
func (s *Store) Chain(chain string) *Store {
	return &Store{db: s.db, chain: chain}
}

// Open connects to PostgreSQL and configures the pool.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", domain.ErrDatastoreUnavailable, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Health checks connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending migrations found in dir using goose.
func Migrate(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// pgTx is the datastore.Tx implementation: a live *sqlx.Tx plus the
// IndexState pending a write, captured so Commit can snapshot atomically
// (spec.md §4.2 "Rollback semantics" requires restoring IndexState
// together with derived state).
type pgTx struct {
	tx *sqlx.Tx

	pendingState    domain.IndexState
	pendingHasState bool
	done            bool
}

func (s *Store) BeginTransaction(ctx context.Context) (datastore.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", domain.ErrDatastoreUnavailable, err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *Store) Commit(ctx context.Context, t datastore.Tx) error {
	pt := t.(*pgTx)
	if pt.done {
		return nil
	}
	if pt.pendingHasState {
		if err := s.writeSnapshot(ctx, pt); err != nil {
			_ = pt.tx.Rollback()
			pt.done = true
			return err
		}
	}
	pt.done = true
	if err := pt.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCommitFailed, err)
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, t datastore.Tx) error {
	pt := t.(*pgTx)
	if pt.done {
		return nil
	}
	pt.done = true
	return pt.tx.Rollback()
}

func (s *Store) ReadIndexState(ctx context.Context, t datastore.Tx) (domain.IndexState, bool, error) {
	pt := t.(*pgTx)
	var row struct {
		BlockNumber uint64 `db:"block_number"`
		BlockHash   string `db:"block_hash"`
		IsReplay    bool   `db:"is_replay"`
	}
	err := pt.tx.GetContext(ctx, &row,
		`SELECT block_number, block_hash, is_replay FROM index_state WHERE chain_name = $1`, s.chain)
	if err == sql.ErrNoRows {
		return domain.IndexState{}, false, nil
	}
	if err != nil {
		return domain.IndexState{}, false, fmt.Errorf("%w: read index state: %v", domain.ErrDatastoreUnavailable, err)
	}
	return domain.IndexState{BlockNumber: row.BlockNumber, BlockHash: row.BlockHash, IsReplay: row.IsReplay}, true, nil
}

func (s *Store) WriteIndexState(ctx context.Context, t datastore.Tx, state domain.IndexState) error {
	pt := t.(*pgTx)
	_, err := pt.tx.ExecContext(ctx, `
		INSERT INTO index_state (chain_name, block_number, block_hash, is_replay)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_name) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash,
			is_replay = EXCLUDED.is_replay
	`, s.chain, state.BlockNumber, state.BlockHash, state.IsReplay)
	if err != nil {
		return fmt.Errorf("%w: write index state: %v", domain.ErrDatastoreUnavailable, err)
	}
	pt.pendingState = state
	pt.pendingHasState = true
	return nil
}

// Context returns the QueryContext updaters use to read and mutate
// derived state, scoped to t and to this Store's chain.
func (s *Store) Context(t datastore.Tx) any {
	return &QueryContext{tx: t.(*pgTx).tx, chain: s.chain}
}

type kvRow struct {
	TableName string `db:"table_name" json:"table_name"`
	Key       string `db:"key" json:"key"`
	Value     []byte `db:"value" json:"value"`
}

// writeSnapshot records the entire kv_current contents plus the
// pending IndexState into state_snapshots, keyed by the block number
// about to be committed. Implicit, one row per applied block, mirrors
// the in-memory reference implementation's history map.
func (s *Store) writeSnapshot(ctx context.Context, pt *pgTx) error {
	var rows []kvRow
	if err := pt.tx.SelectContext(ctx, &rows,
		`SELECT table_name, "key", value FROM kv_current WHERE chain_name = $1`, s.chain); err != nil {
		return fmt.Errorf("%w: read kv_current for snapshot: %v", domain.ErrDatastoreUnavailable, err)
	}

	blob, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = pt.tx.ExecContext(ctx, `
		INSERT INTO state_snapshots (chain_name, block_number, block_hash, is_replay, kv)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_name, block_number) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			is_replay = EXCLUDED.is_replay,
			kv = EXCLUDED.kv
	`, s.chain, pt.pendingState.BlockNumber, pt.pendingState.BlockHash, pt.pendingState.IsReplay, blob)
	if err != nil {
		return fmt.Errorf("%w: write snapshot: %v", domain.ErrDatastoreUnavailable, err)
	}
	return nil
}

// Snapshot is a no-op: Commit already records an implicit snapshot
// for every block that writes an IndexState.
func (s *Store) Snapshot(ctx context.Context, t datastore.Tx, blockNumber uint64) error {
	return nil
}

// RestoreSnapshot restores kv_current and index_state to the snapshot
// recorded at blockNumber, or clears both when blockNumber is 0.
func (s *Store) RestoreSnapshot(ctx context.Context, t datastore.Tx, blockNumber uint64) error {
	pt := t.(*pgTx)

	if _, err := pt.tx.ExecContext(ctx, `DELETE FROM kv_current WHERE chain_name = $1`, s.chain); err != nil {
		return fmt.Errorf("%w: clear kv_current: %v", domain.ErrDatastoreUnavailable, err)
	}
	if _, err := pt.tx.ExecContext(ctx, `DELETE FROM index_state WHERE chain_name = $1`, s.chain); err != nil {
		return fmt.Errorf("%w: clear index_state: %v", domain.ErrDatastoreUnavailable, err)
	}

	if blockNumber == 0 {
		return nil
	}

	var snap struct {
		BlockHash string `db:"block_hash"`
		IsReplay  bool   `db:"is_replay"`
		KV        []byte `db:"kv"`
	}
	err := pt.tx.GetContext(ctx, &snap,
		`SELECT block_hash, is_replay, kv FROM state_snapshots WHERE chain_name = $1 AND block_number = $2`,
		s.chain, blockNumber)
	if err == sql.ErrNoRows {
		return fmt.Errorf("postgres: no snapshot recorded for chain %s at block %d", s.chain, blockNumber)
	}
	if err != nil {
		return fmt.Errorf("%w: read snapshot: %v", domain.ErrDatastoreUnavailable, err)
	}

	var rows []kvRow
	if err := json.Unmarshal(snap.KV, &rows); err != nil {
		return fmt.Errorf("unmarshal snapshot kv: %w", err)
	}
	for _, r := range rows {
		if _, err := pt.tx.ExecContext(ctx,
			`INSERT INTO kv_current (chain_name, table_name, "key", value) VALUES ($1, $2, $3, $4)`,
			s.chain, r.TableName, r.Key, r.Value); err != nil {
			return fmt.Errorf("%w: restore kv row: %v", domain.ErrDatastoreUnavailable, err)
		}
	}

	_, err = pt.tx.ExecContext(ctx, `
		INSERT INTO index_state (chain_name, block_number, block_hash, is_replay)
		VALUES ($1, $2, $3, $4)
	`, s.chain, blockNumber, snap.BlockHash, snap.IsReplay)
	if err != nil {
		return fmt.Errorf("%w: restore index_state: %v", domain.ErrDatastoreUnavailable, err)
	}
	pt.pendingState = domain.IndexState{BlockNumber: blockNumber, BlockHash: snap.BlockHash, IsReplay: snap.IsReplay}
	pt.pendingHasState = true
	return nil
}
