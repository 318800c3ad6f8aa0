package indexer

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Hanssen0/ckb-indexer/pkg/database"
)

type HeaderQuery struct {
	// Nil selects the tip.
	Height *uint64
	// Read the stored block record instead of asking the node.
	FromDB bool
}

// GetBlockHeader returns the block record at the requested height, or nil if
// there is none.
func (ix *Indexer[T]) GetBlockHeader(ctx context.Context, q HeaderQuery) (*database.Block, error) {
	if q.FromDB {
		var (
			block *database.Block
			err   error
		)
		if q.Height == nil {
			block, err = ix.db.GetLatestBlock(ctx)
		} else {
			block, err = ix.db.GetBlock(ctx, *q.Height)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return block, err
	}

	var height uint64
	if q.Height != nil {
		height = *q.Height
	} else {
		tip, err := ix.node.GetTipHeight(ctx)
		if err != nil {
			return nil, err
		}
		height = tip
	}

	header, err := ix.node.GetHeaderByHeight(ctx, height)
	if err != nil || header == nil {
		return nil, err
	}

	return blockRecord(header.Number, *header), nil
}
