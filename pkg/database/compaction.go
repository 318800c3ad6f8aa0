package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

// Versioned is a row kind that keeps one row per natural key and height.
type Versioned interface {
	VersionID() uint64
	VersionHeight() string
	NaturalKey() map[string]interface{}
}

type CompactionResult struct {
	TokenInfos    int64
	TokenBalances int64
}

// Compact collapses the history of every versioned kind up to target. For
// each natural key with versions in (PERMANENT, target], the newest of them
// becomes the permanent version and the older ones are deleted.
func (db *DB) Compact(ctx context.Context, target uint64) (CompactionResult, error) {
	var result CompactionResult
	g := db.g.WithContext(ctx)
	encoded := sortable.EncodeUint64(target)

	deleted, err := collapseAll[TokenInfo](g, encoded)
	if err != nil {
		return result, errors.Wrap(err, "compacting token infos")
	}
	result.TokenInfos = deleted

	deleted, err = collapseAll[TokenBalance](g, encoded)
	if err != nil {
		return result, errors.Wrap(err, "compacting token balances")
	}
	result.TokenBalances = deleted

	return result, nil
}

func collapseAll[V Versioned](db *gorm.DB, target string) (int64, error) {
	var total int64

	for {
		deleted, found, err := collapseNext[V](db, target)
		if err != nil {
			return total, err
		}
		if !found {
			return total, nil
		}

		total += deleted
	}
}

// collapseNext picks the newest row in (PERMANENT, target] and makes it the
// permanent version of its key in one transaction.
func collapseNext[V Versioned](db *gorm.DB, target string) (int64, bool, error) {
	var latest V

	err := db.
		Where("updated_at_height > ? AND updated_at_height <= ?", sortable.Permanent, target).
		Order("updated_at_height DESC").
		Take(&latest).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "finding newest version")
	}

	var deleted int64
	err = db.Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where(latest.NaturalKey()).
			Where("updated_at_height < ?", latest.VersionHeight()).
			Delete(new(V))
		if result.Error != nil {
			return errors.Wrap(result.Error, "deleting old versions")
		}
		deleted = result.RowsAffected

		err := tx.Model(new(V)).
			Where("id = ?", latest.VersionID()).
			Update("updated_at_height", sortable.Permanent).
			Error
		if err != nil {
			return errors.Wrap(err, "marking version permanent")
		}

		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return deleted, true, nil
}
