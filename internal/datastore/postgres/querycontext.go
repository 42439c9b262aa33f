package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// QueryContext is the updater-facing surface for PostgreSQL: a
// generic named-table key/value store backed by the kv_current table,
// scoped to the transaction an updater is running in. Updaters type-
// assert the `any` passed into their UpdaterFunc to *QueryContext.
type QueryContext struct {
	tx    *sqlx.Tx
	chain string
}

// Set upserts value under table/key. value is JSON-encoded.
func (q *QueryContext) Set(ctx context.Context, table, key string, value any) error {
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO kv_current (chain_name, table_name, "key", value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_name, table_name, "key") DO UPDATE SET value = EXCLUDED.value
	`, q.chain, table, key, blob)
	return err
}

// Get decodes the value stored under table/key into dest. ok is false
// if no row exists.
func (q *QueryContext) Get(ctx context.Context, table, key string, dest any) (bool, error) {
	var blob []byte
	err := q.tx.GetContext(ctx, &blob,
		`SELECT value FROM kv_current WHERE chain_name = $1 AND table_name = $2 AND "key" = $3`,
		q.chain, table, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("unmarshal value: %w", err)
	}
	return true, nil
}

// Delete removes the row stored under table/key, if any.
func (q *QueryContext) Delete(ctx context.Context, table, key string) error {
	_, err := q.tx.ExecContext(ctx,
		`DELETE FROM kv_current WHERE chain_name = $1 AND table_name = $2 AND "key" = $3`,
		q.chain, table, key)
	return err
}

// Exec runs an arbitrary statement against the live transaction, for
// updaters that maintain their own relational tables (created by
// their own migrations) rather than the generic kv_current surface.
func (q *QueryContext) Exec(ctx context.Context, query string, args ...any) error {
	_, err := q.tx.ExecContext(ctx, query, args...)
	return err
}

// Select runs an arbitrary query against the live transaction and
// scans the results into dest (a pointer to a slice of structs), via
// sqlx.
func (q *QueryContext) Select(ctx context.Context, dest any, query string, args ...any) error {
	return q.tx.SelectContext(ctx, dest, query, args...)
}
