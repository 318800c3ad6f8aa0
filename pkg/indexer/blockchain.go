package indexer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
)

// nodeWithBackoff retries the single-value node calls. Block ranges are not
// retried here; a failed range ends the pass.
type nodeWithBackoff[T any] struct {
	client         chain.NodeClient[T]
	maxElapsedTime time.Duration
}

func newNodeWithBackoff[T any](client chain.NodeClient[T], maxElapsedTime time.Duration) *nodeWithBackoff[T] {
	return &nodeWithBackoff[T]{
		client:         client,
		maxElapsedTime: maxElapsedTime,
	}
}

func (n *nodeWithBackoff[T]) GetTipHeight(ctx context.Context) (uint64, error) {
	var tip uint64

	err := backoff.RetryNotify(
		func() (err error) {
			tip, err = n.client.GetTipHeight(ctx)
			return err
		},
		n.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("GetTipHeight error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return 0, errors.Wrap(err, "GetTipHeight failed")
	}

	return tip, nil
}

func (n *nodeWithBackoff[T]) GetHeaderByHeight(ctx context.Context, height uint64) (*chain.Header, error) {
	var header *chain.Header

	err := backoff.RetryNotify(
		func() (err error) {
			header, err = n.client.GetHeaderByHeight(ctx, height)
			return err
		},
		n.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("GetHeaderByHeight(%d) error: %v. Will retry after %v", height, err, d)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "GetHeaderByHeight failed")
	}

	return header, nil
}

// GetServerInfo reports the node version, or an empty string if the client
// cannot tell.
func (n *nodeWithBackoff[T]) GetServerInfo(ctx context.Context) (string, error) {
	provider, ok := n.client.(chain.ServerInfoProvider)
	if !ok {
		return "", nil
	}

	var serverInfo string
	err := backoff.RetryNotify(
		func() (err error) {
			serverInfo, err = provider.GetServerInfo(ctx)
			return err
		},
		n.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("GetServerInfo error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "GetServerInfo failed")
	}

	return serverInfo, nil
}

func (n *nodeWithBackoff[T]) newBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(n.maxElapsedTime),
	), ctx)
}
