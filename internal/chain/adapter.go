// Package chain defines the capability set the Action Reader depends
// on to walk a blockchain. Concrete implementations (JSON-RPC, gRPC,
// a fake for tests) live in sub-packages or test files; the core never
// imports a specific chain SDK.
package chain

import (
	"context"

	"github.com/chainflux/demux/internal/domain"
)

// Adapter is the chain-level capability set consumed by the reader
// (spec.md §6 "Chain adapter interface").
type Adapter interface {
	// GetHeadBlockNumber returns the chain's current head block number.
	GetHeadBlockNumber(ctx context.Context) (uint64, error)

	// GetBlock fetches a block by number. Implementations return
	// domain.ErrBlockNotFound when the number doesn't exist yet.
	GetBlock(ctx context.Context, number uint64) (domain.Block, error)
}

// IrreversibleAdapter is an optional capability: chains that expose a
// last-irreversible-block number (spec.md §4.1 "Irreversibility gate")
// implement it in addition to Adapter.
type IrreversibleAdapter interface {
	GetIrreversibleBlockNumber(ctx context.Context) (uint64, error)
}
