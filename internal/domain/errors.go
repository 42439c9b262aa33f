package domain

import "errors"

// Transient errors are retried with backoff by the watcher.
var (
	ErrChainUnreachable    = errors.New("chain unreachable")
	ErrDatastoreUnavailable = errors.New("datastore unavailable")
	ErrCommitFailed        = errors.New("commit failed")
)

// Protocol errors are fatal for the current block: the watcher neither
// retries them nor escalates them to a rollback attempt.
var (
	ErrHashMismatch   = errors.New("hash mismatch")
	ErrOutOfOrderBlock = errors.New("out of order block")
	ErrMalformedBlock  = errors.New("malformed block")
	ErrBlockNotFound   = errors.New("block not found")
)

// Structural errors.
var (
	ErrReorgTooDeep        = errors.New("reorg too deep")
	ErrEffectsNotReversible = errors.New("effects not reversible")
)
