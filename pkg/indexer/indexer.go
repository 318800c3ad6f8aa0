package indexer

import (
	"context"
	"time"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/database"
	"github.com/Hanssen0/ckb-indexer/pkg/fetcher"
	"github.com/Hanssen0/ckb-indexer/pkg/metrics"
	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

const defaultExtractConcurrency = 16

// DiffExtractor computes the ledger changes of one transaction. It must only
// read chain data, since the transactions of a block are extracted
// concurrently before any of them is applied.
type DiffExtractor[T any] interface {
	ExtractDiffs(ctx context.Context, tx T) ([]database.Diff, error)
}

// DiffApplier writes diffs inside the atomic unit of a block.
type DiffApplier interface {
	ApplyDiffs(ctx context.Context, scope *gorm.DB, height uint64, diffs []database.Diff) error
}

type Indexer[T any] struct {
	node      *nodeWithBackoff[T]
	fetcher   *fetcher.Fetcher[T]
	db        *database.DB
	applier   DiffApplier
	extractor DiffExtractor[T]

	startHeight        uint64
	blockLimit         uint64
	extractConcurrency int
	reportInterval     uint64
	confirmations      *uint64

	progress *progress
}

func New[T any](
	cfg *config.BaseConfig, db *database.DB, node chain.NodeClient[T], extractor DiffExtractor[T],
) *Indexer[T] {
	backoffMaxElapsedTime := time.Duration(cfg.Timeout.BackoffMaxElapsedTimeSeconds) * time.Second

	extractConcurrency := cfg.Sync.ExtractConcurrency
	if extractConcurrency <= 0 {
		extractConcurrency = defaultExtractConcurrency
	}

	return &Indexer[T]{
		node:               newNodeWithBackoff(node, backoffMaxElapsedTime),
		fetcher:            fetcher.New[T](node, cfg.Sync.Workers, cfg.Sync.ChunkSize),
		db:                 db,
		applier:            db,
		extractor:          extractor,
		startHeight:        cfg.Sync.StartHeight,
		blockLimit:         cfg.Sync.BlockLimitPerInterval,
		extractConcurrency: extractConcurrency,
		reportInterval:     cfg.Sync.ReportIntervalBlocks,
		confirmations:      cfg.Clear.Confirmations,
		progress:           newProgress(),
	}
}

// GetServerInfo returns the version string of the node, if it reports one.
func (ix *Indexer[T]) GetServerInfo(ctx context.Context) (string, error) {
	return ix.node.GetServerInfo(ctx)
}

// Sync runs passes until one of them reaches the tip. A block the node did
// not return ends the pass; the run continues with the next pass only if the
// pass applied something, otherwise the next scheduled run retries from
// PENDING.
func (ix *Indexer[T]) Sync(ctx context.Context) error {
	for {
		done, err := ix.runPass(ctx)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

func (ix *Indexer[T]) runPass(ctx context.Context) (bool, error) {
	passStart := time.Now()
	defer func() {
		metrics.SyncPassDuration.Observe(time.Since(passStart).Seconds())
	}()

	pending, err := ix.db.GetPending(ctx, ix.startHeight)
	if err != nil {
		return false, err
	}

	tip, err := ix.node.GetTipHeight(ctx)
	if err != nil {
		return false, err
	}

	metrics.TipHeight.Set(float64(tip))
	metrics.PendingHeight.Set(float64(pending))

	target := ix.target(pending, tip)
	pass := ix.progress.beginPass(tip, target)
	defer pass.finish()

	if pending < target {
		logger.Debugf("syncing blocks [%d, %d), tip %d", pending, target, tip)
	}

	progressed := false
	for item, err := range ix.fetcher.Blocks(ctx, pending, target) {
		if err != nil {
			return false, err
		}

		if item.Block == nil {
			logger.Errorf("failed to get block %d", item.Height)
			metrics.FetchGaps.Inc()

			// Without progress the next pass would hit the same gap at once.
			return !progressed || target == tip, nil
		}

		applied, err := ix.applyBlock(ctx, item.Height, item.Block)
		if err != nil {
			return false, errors.Wrapf(err, "applying block %d", item.Height)
		}
		if !applied {
			continue
		}
		progressed = true

		metrics.BlocksApplied.Inc()
		metrics.TransactionsProcessed.Add(float64(len(item.Block.Transactions)))
		metrics.PendingHeight.Set(float64(item.Height))
		pass.blockApplied(len(item.Block.Transactions))

		if ix.reportInterval > 0 && ix.progress.syncedBlocks%ix.reportInterval == 0 {
			ix.logProgress(pass.report(item.Height))
		}
	}

	return target == tip, nil
}

func (ix *Indexer[T]) target(pending, tip uint64) uint64 {
	if ix.blockLimit == 0 || pending >= tip || tip-pending <= ix.blockLimit {
		return tip
	}

	return pending + ix.blockLimit
}

// applyBlock extracts the diffs of every transaction concurrently and then
// applies them in transaction order inside the atomic unit of the block.
func (ix *Indexer[T]) applyBlock(ctx context.Context, height uint64, block *chain.Block[T]) (bool, error) {
	diffs, err := ix.extractDiffs(ctx, block.Transactions)
	if err != nil {
		return false, err
	}

	return ix.db.ApplyBlock(ctx, blockRecord(height, block.Header), func(tx *gorm.DB) error {
		for i := range diffs {
			if err := ix.applier.ApplyDiffs(ctx, tx, height, diffs[i]); err != nil {
				return errors.Wrapf(err, "transaction %d", i)
			}
		}

		return nil
	})
}

func blockRecord(height uint64, header chain.Header) *database.Block {
	return &database.Block{
		Height:     sortable.EncodeUint64(height),
		Hash:       header.Hash,
		ParentHash: header.ParentHash,
		Timestamp:  header.Timestamp / 1000,
	}
}

func (ix *Indexer[T]) extractDiffs(ctx context.Context, transactions []T) ([][]database.Diff, error) {
	results := make([][]database.Diff, len(transactions))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.extractConcurrency)

	for i := range transactions {
		eg.Go(func() error {
			diffs, err := ix.extractor.ExtractDiffs(ctx, transactions[i])
			if err != nil {
				return errors.Wrapf(err, "extracting diffs of transaction %d", i)
			}

			results[i] = diffs
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (ix *Indexer[T]) logProgress(r report) {
	tipCost := "-"
	if r.TipCostKnown {
		tipCost = r.TipCost.Round(100 * time.Millisecond).String()
	}

	logger.Infof(
		"tip %d (%s/block), synced block %d, %.1f blocks/s (~%.1f mins left), %d transactions processed",
		r.Tip, tipCost, r.Height, r.BlocksPerSecond, r.ETA.Minutes(), r.Transactions,
	)

	metrics.BlocksPerSecond.Set(r.BlocksPerSecond)
	metrics.ETASeconds.Set(r.ETA.Seconds())
}
