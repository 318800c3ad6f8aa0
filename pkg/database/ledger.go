package database

import (
	"context"
	"math/big"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

type DiffKind int

const (
	// SupplyDiff changes the total supply of a token.
	SupplyDiff DiffKind = iota
	// BalanceDiff changes the balance of an address for a token.
	BalanceDiff
)

func (k DiffKind) String() string {
	switch k {
	case SupplyDiff:
		return "supply"
	case BalanceDiff:
		return "balance"
	default:
		return "unknown"
	}
}

// Diff is a signed change to one ledger entry. AddressHash is ignored for
// supply diffs.
type Diff struct {
	Kind        DiffKind
	TokenHash   string
	AddressHash string
	Delta       *big.Int
}

// ApplyDiffs adds each diff to the newest version of its ledger entry inside
// scope. A version already written at height is updated in place; otherwise
// a new version is appended at height. Amounts never go below zero.
func (db *DB) ApplyDiffs(ctx context.Context, scope *gorm.DB, height uint64, diffs []Diff) error {
	tx := scope.WithContext(ctx)

	for i := range diffs {
		var err error

		switch diffs[i].Kind {
		case SupplyDiff:
			err = applySupply(tx, height, &diffs[i])
		case BalanceDiff:
			err = applyBalance(tx, height, &diffs[i])
		default:
			err = errors.Errorf("unknown diff kind %d", diffs[i].Kind)
		}
		if err != nil {
			return errors.Wrapf(err, "applying %s diff at height %d", diffs[i].Kind, height)
		}
	}

	return nil
}

func applySupply(tx *gorm.DB, number uint64, diff *Diff) error {
	height := sortable.EncodeUint64(number)

	var current TokenInfo

	found, err := newestVersion(tx.Where("token_hash = ?", diff.TokenHash), &current)
	if err != nil {
		return err
	}

	supply, clamped, err := addAmount(current.TotalSupply, found, diff.Delta)
	if err != nil {
		return errors.Wrapf(err, "token %s", diff.TokenHash)
	}
	if clamped {
		logger.Warnf("supply of token %s would become negative at height %d, clamped to 0", diff.TokenHash, number)
	}

	if found && current.UpdatedAtHeight == height {
		return tx.Model(&current).Update("total_supply", supply).Error
	}
	if found && current.UpdatedAtHeight > height {
		return errors.Errorf("token %s has a version newer than %d", diff.TokenHash, number)
	}

	return tx.Create(&TokenInfo{
		TokenHash:       diff.TokenHash,
		TotalSupply:     supply,
		UpdatedAtHeight: height,
	}).Error
}

func applyBalance(tx *gorm.DB, number uint64, diff *Diff) error {
	height := sortable.EncodeUint64(number)

	var current TokenBalance

	found, err := newestVersion(
		tx.Where("address_hash = ? AND token_hash = ?", diff.AddressHash, diff.TokenHash), &current,
	)
	if err != nil {
		return err
	}

	balance, clamped, err := addAmount(current.Balance, found, diff.Delta)
	if err != nil {
		return errors.Wrapf(err, "address %s token %s", diff.AddressHash, diff.TokenHash)
	}
	if clamped {
		logger.Warnf(
			"balance of %s for token %s would become negative at height %d, clamped to 0",
			diff.AddressHash, diff.TokenHash, number,
		)
	}

	if found && current.UpdatedAtHeight == height {
		return tx.Model(&current).Update("balance", balance).Error
	}
	if found && current.UpdatedAtHeight > height {
		return errors.Errorf("balance of %s has a version newer than %d", diff.AddressHash, number)
	}

	return tx.Create(&TokenBalance{
		AddressHash:     diff.AddressHash,
		TokenHash:       diff.TokenHash,
		Balance:         balance,
		UpdatedAtHeight: height,
	}).Error
}

func newestVersion(query *gorm.DB, dest interface{}) (bool, error) {
	err := query.Order("updated_at_height DESC").Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "loading newest version")
	}

	return true, nil
}

// addAmount adds delta to the stored amount. A negative result is clamped to
// zero and reported: it happens when a cell created before the start height
// is spent, so its credit was never seen.
func addAmount(current string, found bool, delta *big.Int) (string, bool, error) {
	sum := new(big.Int)
	if found {
		if _, ok := sum.SetString(current, 10); !ok {
			return "", false, errors.Errorf("stored amount %q is not a decimal", current)
		}
	}
	if delta != nil {
		sum.Add(sum, delta)
	}
	if sum.Sign() < 0 {
		return "0", true, nil
	}

	return sum.String(), false, nil
}

// GetBalance returns the current balance of address for token, zero if the
// pair was never seen.
func (db *DB) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	return db.balance(db.g.WithContext(ctx).Where("address_hash = ? AND token_hash = ?", address, token))
}

// GetBalanceAt returns the balance as of height. Below CONFIRMED only the
// collapsed value survives, so older heights read the permanent version.
func (db *DB) GetBalanceAt(ctx context.Context, address, token string, height uint64) (*big.Int, error) {
	return db.balance(db.g.WithContext(ctx).Where(
		"address_hash = ? AND token_hash = ? AND updated_at_height <= ?",
		address, token, sortable.EncodeUint64(height),
	))
}

func (db *DB) balance(query *gorm.DB) (*big.Int, error) {
	var row TokenBalance

	found, err := newestVersion(query, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(big.Int), nil
	}

	balance, ok := new(big.Int).SetString(row.Balance, 10)
	if !ok {
		return nil, errors.Errorf("stored balance %q is not a decimal", row.Balance)
	}

	return balance, nil
}

// GetTokenInfo returns the current version of a token. The error wraps
// gorm.ErrRecordNotFound for unknown tokens.
func (db *DB) GetTokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	info := new(TokenInfo)

	err := db.g.WithContext(ctx).Where("token_hash = ?", token).Order("updated_at_height DESC").Take(info).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading token %s", token)
	}

	return info, nil
}
