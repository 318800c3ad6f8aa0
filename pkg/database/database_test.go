package database

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	g, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := g.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := Init(g, true)
	require.NoError(t, err)

	return db
}

func testBlock(height uint64) *Block {
	return &Block{
		Height:     sortable.EncodeUint64(height),
		Hash:       fmt.Sprintf("0x%064x", height),
		ParentHash: fmt.Sprintf("0x%064x", height-1),
		Timestamp:  1700000000 + height,
	}
}

func balanceDiff(address, token string, delta int64) Diff {
	return Diff{Kind: BalanceDiff, AddressHash: address, TokenHash: token, Delta: big.NewInt(delta)}
}

func TestWatermarkDefaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	state, err := db.LookupState(ctx, PendingState)
	require.NoError(t, err)
	require.Nil(t, state)

	pending, err := db.GetPending(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), pending)

	// The default is only used on first read.
	pending, err = db.GetPending(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(42), pending)

	confirmed, err := db.GetConfirmed(ctx)
	require.NoError(t, err)
	require.True(t, confirmed.IsPermanent())

	require.NoError(t, db.SetConfirmed(ctx, 30))
	confirmed, err = db.GetConfirmed(ctx)
	require.NoError(t, err)
	h, ok := confirmed.Uint64()
	require.True(t, ok)
	require.Equal(t, uint64(30), h)
}

func TestApplyBlockIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	calls := 0
	apply := func(tx *gorm.DB) error {
		calls++
		return db.ApplyDiffs(ctx, tx, 5, []Diff{balanceDiff("addr", "token", 10)})
	}

	applied, err := db.ApplyBlock(ctx, testBlock(5), apply)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = db.ApplyBlock(ctx, testBlock(5), apply)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 1, calls)

	balance, err := db.GetBalance(ctx, "addr", "token")
	require.NoError(t, err)
	require.Equal(t, "10", balance.String())

	pending, err := db.GetPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), pending)
}

func TestApplyBlockRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetPending(ctx, 3)
	require.NoError(t, err)

	applied, err := db.ApplyBlock(ctx, testBlock(4), func(tx *gorm.DB) error {
		if err := db.ApplyDiffs(ctx, tx, 4, []Diff{balanceDiff("addr", "token", 10)}); err != nil {
			return err
		}

		return errors.New("extractor exploded")
	})
	require.Error(t, err)
	require.False(t, applied)

	_, err = db.GetBlock(ctx, 4)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	balance, err := db.GetBalance(ctx, "addr", "token")
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	pending, err := db.GetPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), pending)
}

func TestApplyDiffsVersions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	apply := func(height uint64, diffs ...Diff) error {
		_, err := db.ApplyBlock(ctx, testBlock(height), func(tx *gorm.DB) error {
			return db.ApplyDiffs(ctx, tx, height, diffs)
		})
		return err
	}

	require.NoError(t, apply(10,
		balanceDiff("a", "t", 5),
		balanceDiff("a", "t", 3),
		Diff{Kind: SupplyDiff, TokenHash: "t", Delta: big.NewInt(8)},
	))
	require.NoError(t, apply(20, balanceDiff("a", "t", -2)))

	var rows []TokenBalance
	require.NoError(t, db.g.Order("updated_at_height").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "8", rows[0].Balance)
	assert.Equal(t, sortable.EncodeUint64(10), rows[0].UpdatedAtHeight)
	assert.Equal(t, "6", rows[1].Balance)

	for _, tc := range []struct {
		height   uint64
		expected string
	}{
		{5, "0"},
		{10, "8"},
		{15, "8"},
		{20, "6"},
		{100, "6"},
	} {
		balance, err := db.GetBalanceAt(ctx, "a", "t", tc.height)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, balance.String(), "height %d", tc.height)
	}

	info, err := db.GetTokenInfo(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "8", info.TotalSupply)

	_, err = db.GetTokenInfo(ctx, "unknown")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestApplyDiffsClampsNegative(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// A spend of a cell whose credit predates the indexed range.
	applied, err := db.ApplyBlock(ctx, testBlock(1), func(tx *gorm.DB) error {
		return db.ApplyDiffs(ctx, tx, 1, []Diff{
			balanceDiff("a", "t", 2),
			balanceDiff("a", "t", -5),
			{Kind: SupplyDiff, TokenHash: "t", Delta: big.NewInt(-5)},
		})
	})
	require.NoError(t, err)
	require.True(t, applied)

	balance, err := db.GetBalance(ctx, "a", "t")
	require.NoError(t, err)
	require.Equal(t, "0", balance.String())

	info, err := db.GetTokenInfo(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "0", info.TotalSupply)

	applied, err = db.ApplyBlock(ctx, testBlock(2), func(tx *gorm.DB) error {
		return db.ApplyDiffs(ctx, tx, 2, []Diff{balanceDiff("a", "t", 4)})
	})
	require.NoError(t, err)
	require.True(t, applied)

	balance, err = db.GetBalance(ctx, "a", "t")
	require.NoError(t, err)
	require.Equal(t, "4", balance.String())
}

func insertBalance(t *testing.T, db *DB, address string, height uint64, balance int64) {
	t.Helper()

	err := db.g.Create(&TokenBalance{
		AddressHash:     address,
		TokenHash:       "t",
		Balance:         big.NewInt(balance).String(),
		UpdatedAtHeight: sortable.EncodeUint64(height),
	}).Error
	require.NoError(t, err)
}

func balanceHeights(t *testing.T, db *DB, address string) map[string]string {
	t.Helper()

	var rows []TokenBalance
	require.NoError(t, db.g.Where("address_hash = ?", address).Find(&rows).Error)

	result := make(map[string]string, len(rows))
	for _, row := range rows {
		h, err := sortable.Decode(row.UpdatedAtHeight)
		require.NoError(t, err)
		result[h.String()] = row.Balance
	}

	return result
}

func TestCompactCollapsesConfirmedHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	insertBalance(t, db, "k", 40, 1)
	insertBalance(t, db, "k", 70, 2)
	insertBalance(t, db, "k", 85, 3)
	insertBalance(t, db, "k", 95, 4)
	insertBalance(t, db, "other", 10, 7)
	insertBalance(t, db, "other", 95, 8)

	result, err := db.Compact(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.TokenBalances)
	require.Zero(t, result.TokenInfos)

	require.Equal(t, map[string]string{"PERMANENT": "3", "95": "4"}, balanceHeights(t, db, "k"))
	require.Equal(t, map[string]string{"PERMANENT": "7", "95": "8"}, balanceHeights(t, db, "other"))

	// Nothing left in range.
	result, err = db.Compact(ctx, 90)
	require.NoError(t, err)
	require.Zero(t, result.TokenBalances)

	// A newer confirmed version replaces the permanent one.
	insertBalance(t, db, "k", 100, 5)
	result, err = db.Compact(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.TokenBalances)
	require.Equal(t, map[string]string{"PERMANENT": "5"}, balanceHeights(t, db, "k"))
	require.Equal(t, map[string]string{"PERMANENT": "8"}, balanceHeights(t, db, "other"))

	balance, err := db.GetBalance(ctx, "k", "t")
	require.NoError(t, err)
	require.Equal(t, "5", balance.String())
}

func TestCompactTokenInfos(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for height, supply := range map[uint64]string{3: "100", 6: "150", 9: "120"} {
		err := db.g.Create(&TokenInfo{
			TokenHash:       "t",
			TotalSupply:     supply,
			UpdatedAtHeight: sortable.EncodeUint64(height),
		}).Error
		require.NoError(t, err)
	}

	result, err := db.Compact(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.TokenInfos)

	var rows []TokenInfo
	require.NoError(t, db.g.Order("updated_at_height").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, sortable.Permanent, rows[0].UpdatedAtHeight)
	require.Equal(t, "150", rows[0].TotalSupply)
	require.Equal(t, "120", rows[1].TotalSupply)
}

func TestLatestBlock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetLatestBlock(ctx)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// Heights with different digit counts must still sort numerically.
	for _, h := range []uint64{9, 10, 100, 99} {
		_, err := db.ApplyBlock(ctx, testBlock(h), func(*gorm.DB) error { return nil })
		require.NoError(t, err)
	}

	block, err := db.GetLatestBlock(ctx)
	require.NoError(t, err)
	number, err := block.Number()
	require.NoError(t, err)
	require.Equal(t, uint64(100), number)

	block, err = db.GetBlock(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("0x%064x", 99), block.Hash)
}
