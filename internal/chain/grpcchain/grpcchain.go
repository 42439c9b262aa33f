// Package grpcchain implements a chain.Adapter over a gRPC transport,
// for chain nodes that expose a gRPC block source instead of
// JSON-RPC. Dial logic (TLS/insecure credential selection by scheme)
// is grounded on the teacher's internal/infra/rpc/provider/grpc.go.
// Because no generated service stubs exist for an arbitrary operator's
// chain node, requests and responses are carried as JSON payloads
// wrapped in wrapperspb.BytesValue and invoked directly against the
// raw grpc.ClientConn — the same codegen-free pattern as the
// teacher's ProviderShim in internal/infra/chain/sui/client.go, minus
// the extra shim indirection since there is no generated client to
// adapt to.
package grpcchain

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chainflux/demux/internal/domain"
)

// Config configures an Adapter.
type Config struct {
	Endpoint    string
	DialTimeout time.Duration

	// Method names on the operator's gRPC service. Defaults match the
	// demux.chain.v1.BlockService convention.
	HeadMethod         string
	IrreversibleMethod string
	BlockMethod        string
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeadMethod == "" {
		c.HeadMethod = "/demux.chain.v1.BlockService/GetHead"
	}
	if c.IrreversibleMethod == "" {
		c.IrreversibleMethod = "/demux.chain.v1.BlockService/GetIrreversible"
	}
	if c.BlockMethod == "" {
		c.BlockMethod = "/demux.chain.v1.BlockService/GetBlock"
	}
	return c
}

// Adapter is a chain.Adapter + chain.IrreversibleAdapter implementation
// backed by a gRPC connection.
type Adapter struct {
	cfg  Config
	conn *grpc.ClientConn
}

// Dial connects to the configured endpoint, selecting TLS or insecure
// transport credentials by scheme, same as the teacher's
// NewGRPCProvider.
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()

	target := cfg.Endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial grpc endpoint %s: %v", domain.ErrChainUnreachable, target, err)
	}

	return &Adapter{cfg: cfg, conn: conn}, nil
}

// Close releases the underlying connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

func (a *Adapter) invoke(ctx context.Context, method string, reqPayload any, out any) error {
	reqJSON, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req := wrapperspb.Bytes(reqJSON)
	reply := &wrapperspb.BytesValue{}

	if err := a.conn.Invoke(ctx, method, req, reply); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChainUnreachable, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.GetValue(), out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrMalformedBlock, method, err)
	}
	return nil
}

type headResponse struct {
	BlockNumber uint64 `json:"blockNumber"`
}

// GetHeadBlockNumber implements chain.Adapter.
func (a *Adapter) GetHeadBlockNumber(ctx context.Context) (uint64, error) {
	var resp headResponse
	if err := a.invoke(ctx, a.cfg.HeadMethod, struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.BlockNumber, nil
}

// GetIrreversibleBlockNumber implements chain.IrreversibleAdapter.
func (a *Adapter) GetIrreversibleBlockNumber(ctx context.Context) (uint64, error) {
	var resp headResponse
	if err := a.invoke(ctx, a.cfg.IrreversibleMethod, struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.BlockNumber, nil
}

type blockRequest struct {
	BlockNumber uint64 `json:"blockNumber"`
}

type actionWire struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	TransactionID string          `json:"transactionId"`
	ActionIndex   uint32          `json:"actionIndex"`
}

type blockResponse struct {
	Number       uint64       `json:"number"`
	Hash         string       `json:"hash"`
	PreviousHash string       `json:"previousHash"`
	Timestamp    uint64       `json:"timestamp"`
	Found        bool         `json:"found"`
	Actions      []actionWire `json:"actions"`
}

// GetBlock implements chain.Adapter.
func (a *Adapter) GetBlock(ctx context.Context, number uint64) (domain.Block, error) {
	var resp blockResponse
	if err := a.invoke(ctx, a.cfg.BlockMethod, blockRequest{BlockNumber: number}, &resp); err != nil {
		return domain.Block{}, err
	}
	if !resp.Found {
		return domain.Block{}, fmt.Errorf("block %d: %w", number, domain.ErrBlockNotFound)
	}

	actions := make([]domain.Action, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		actions = append(actions, domain.Action{
			Type:          a.Type,
			Payload:       a.Payload,
			BlockNumber:   resp.Number,
			TransactionID: a.TransactionID,
			ActionIndex:   a.ActionIndex,
		})
	}

	return domain.Block{
		Number:       resp.Number,
		Hash:         resp.Hash,
		PreviousHash: resp.PreviousHash,
		Timestamp:    resp.Timestamp,
		Actions:      actions,
	}, nil
}
