package main

import (
	"context"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
	"github.com/Hanssen0/ckb-indexer/pkg/ckb"
	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/framework"
	"github.com/Hanssen0/ckb-indexer/pkg/indexer"
)

func main() {
	input := framework.Input[ckb.Transaction]{
		NewNodeClient: newNodeClient,
		NewExtractor:  newExtractor,
	}

	if err := framework.Run(input); err != nil {
		logger.Fatal(err)
	}
}

func newNodeClient(ctx context.Context, cfg *config.Chain) (chain.NodeClient[ckb.Transaction], error) {
	return ckb.NewClient(ctx, cfg)
}

func newExtractor(
	ctx context.Context, cfg *config.Chain, node chain.NodeClient[ckb.Transaction],
) (indexer.DiffExtractor[ckb.Transaction], error) {
	source, ok := node.(ckb.TransactionSource)
	if !ok {
		return nil, errors.New("node client cannot resolve transactions")
	}

	return ckb.NewExtractor(ctx, cfg, source)
}
