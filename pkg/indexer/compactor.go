package indexer

import (
	"context"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/database"
	"github.com/Hanssen0/ckb-indexer/pkg/metrics"
	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

// Clear advances CONFIRMED to PENDING minus the configured confirmations and
// collapses ledger history up to it. It does nothing when confirmations are
// not configured or nothing has been synced yet.
//
// CONFIRMED is written before pruning starts. Pruning always scans from the
// permanent marker, so rows left behind by an interrupted run are collected
// by the next one.
func (ix *Indexer[T]) Clear(ctx context.Context) error {
	if ix.confirmations == nil {
		return nil
	}

	state, err := ix.db.LookupState(ctx, database.PendingState)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	pending, err := sortable.DecodeUint64(state.Value)
	if err != nil {
		return errors.Wrap(err, "decoding PENDING")
	}

	if pending < *ix.confirmations {
		return nil
	}
	target := pending - *ix.confirmations

	confirmed, err := ix.db.GetConfirmed(ctx)
	if err != nil {
		return err
	}
	if confirmed.Cmp(sortable.FromUint64(target)) >= 0 {
		return nil
	}

	if err := ix.db.SetConfirmed(ctx, target); err != nil {
		return err
	}
	metrics.ConfirmedHeight.Set(float64(target))

	logger.Infof("clearing up to height %d", target)

	result, err := ix.db.Compact(ctx, target)
	metrics.CompactedRows.WithLabelValues("token_info").Add(float64(result.TokenInfos))
	metrics.CompactedRows.WithLabelValues("token_balance").Add(float64(result.TokenBalances))
	if err != nil {
		return errors.Wrapf(err, "clearing up to height %d", target)
	}

	logger.Infof(
		"cleared up to height %d: deleted %d token info and %d token balance versions",
		target, result.TokenInfos, result.TokenBalances,
	)

	return nil
}
