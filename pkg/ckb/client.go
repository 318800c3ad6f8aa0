// Package ckb implements the node client and diff extractor for Nervos CKB.
package ckb

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
	"github.com/Hanssen0/ckb-indexer/pkg/config"
)

const defaultRequestTimeout = 10 * time.Second

// Client is a JSON-RPC client for a CKB node. All requests share one
// concurrency limit.
type Client struct {
	rpc     *rpc.Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewClient(ctx context.Context, cfg *config.Chain) (*Client, error) {
	timeout := time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	endpoint := cfg.Endpoint()
	client, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", endpoint)
	}

	logger.Infof("using CKB node at %s", endpoint)

	return &Client{
		rpc:     client,
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.rpc.CallContext(ctx, result, method, args...)
}

func (c *Client) batch(ctx context.Context, elems []rpc.BatchElem) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.rpc.BatchCallContext(ctx, elems)
}

func (c *Client) GetTipHeight(ctx context.Context) (uint64, error) {
	var tip hexutil.Uint64
	if err := c.call(ctx, &tip, "get_tip_block_number"); err != nil {
		return 0, errors.Wrap(err, "get_tip_block_number")
	}

	return uint64(tip), nil
}

// GetHeaderByHeight returns nil if the node has no block at height.
func (c *Client) GetHeaderByHeight(ctx context.Context, height uint64) (*chain.Header, error) {
	var h *header
	if err := c.call(ctx, &h, "get_header_by_number", hexutil.Uint64(height)); err != nil {
		return nil, errors.Wrapf(err, "get_header_by_number(%d)", height)
	}
	if h == nil {
		return nil, nil
	}

	result := h.toChain()
	return &result, nil
}

// GetBlocksInRange fetches [start, end) in one batch request. Heights the
// node answered with an error or null are returned as absent blocks; only a
// failure of the request itself is returned as an error.
func (c *Client) GetBlocksInRange(ctx context.Context, start, end uint64) ([]chain.Fetched[Transaction], error) {
	if start >= end {
		return nil, nil
	}

	blocks := make([]*block, end-start)
	elems := make([]rpc.BatchElem, end-start)
	for i := range elems {
		elems[i] = rpc.BatchElem{
			Method: "get_block_by_number",
			Args:   []interface{}{hexutil.Uint64(start + uint64(i))},
			Result: &blocks[i],
		}
	}

	if err := c.batch(ctx, elems); err != nil {
		return nil, errors.Wrapf(err, "get_block_by_number [%d, %d)", start, end)
	}

	result := make([]chain.Fetched[Transaction], len(elems))
	for i := range elems {
		height := start + uint64(i)
		result[i] = chain.Fetched[Transaction]{Height: height}

		if elems[i].Error != nil {
			logger.Debugf("get_block_by_number(%d) error: %v", height, elems[i].Error)
			continue
		}
		if blocks[i] == nil {
			continue
		}

		if len(blocks[i].Transactions) > 0 {
			blocks[i].Transactions[0].IsCellbase = true
		}

		result[i].Block = &chain.Block[Transaction]{
			Header:       blocks[i].Header.toChain(),
			Transactions: blocks[i].Transactions,
		}
	}

	return result, nil
}

// GetTransaction returns a committed or pending transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var tx *transactionWithStatus
	if err := c.call(ctx, &tx, "get_transaction", hash); err != nil {
		return nil, errors.Wrapf(err, "get_transaction(%s)", hash.Hex())
	}
	if tx == nil || tx.Transaction == nil {
		return nil, errors.Errorf("transaction %s not found", hash.Hex())
	}

	return tx.Transaction, nil
}

func (c *Client) GetServerInfo(ctx context.Context) (string, error) {
	var node localNode
	if err := c.call(ctx, &node, "local_node_info"); err != nil {
		return "", errors.Wrap(err, "local_node_info")
	}

	return node.Version, nil
}
