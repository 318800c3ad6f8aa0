package database

import (
	"time"

	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

var entities = []interface{}{
	State{},
	Version{},
	Block{},
	TokenInfo{},
	TokenBalance{},
}

// Block is the append-only record of an applied block.
type Block struct {
	Height     string `gorm:"primaryKey;type:varchar(80)"`
	Hash       string `gorm:"type:varchar(66);index"`
	ParentHash string `gorm:"type:varchar(66)"`
	// Seconds since the Unix epoch.
	Timestamp uint64 `gorm:"index"`
}

func (b *Block) Number() (uint64, error) {
	return sortable.DecodeUint64(b.Height)
}

// TokenInfo is one version of a token's metadata. The row whose
// UpdatedAtHeight is sortable.Permanent holds the collapsed history.
type TokenInfo struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	TokenHash       string `gorm:"type:varchar(66);uniqueIndex:idx_token_info_version,priority:1"`
	TotalSupply     string `gorm:"type:text"`
	UpdatedAtHeight string `gorm:"type:varchar(80);uniqueIndex:idx_token_info_version,priority:2;index"`
}

func (t TokenInfo) VersionID() uint64 {
	return t.ID
}

func (t TokenInfo) VersionHeight() string {
	return t.UpdatedAtHeight
}

func (t TokenInfo) NaturalKey() map[string]interface{} {
	return map[string]interface{}{"token_hash": t.TokenHash}
}

// TokenBalance is one version of an address balance for a token.
type TokenBalance struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	AddressHash     string `gorm:"type:varchar(66);uniqueIndex:idx_token_balance_version,priority:1"`
	TokenHash       string `gorm:"type:varchar(66);uniqueIndex:idx_token_balance_version,priority:2"`
	Balance         string `gorm:"type:text"`
	UpdatedAtHeight string `gorm:"type:varchar(80);uniqueIndex:idx_token_balance_version,priority:3;index"`
}

func (t TokenBalance) VersionID() uint64 {
	return t.ID
}

func (t TokenBalance) VersionHeight() string {
	return t.UpdatedAtHeight
}

func (t TokenBalance) NaturalKey() map[string]interface{} {
	return map[string]interface{}{"address_hash": t.AddressHash, "token_hash": t.TokenHash}
}

type Version struct {
	ID            int `gorm:"primaryKey"`
	GitTag        string
	GitHash       string
	BuildDate     uint64
	NodeVersion   string
	Confirmations *uint64
	StartedAt     time.Time
}
