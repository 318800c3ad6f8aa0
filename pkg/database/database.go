package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

const (
	createBatchSize = 1000
	globalVersionID = 1
)

type DB struct {
	g *gorm.DB
}

func InitVersion() *Version {
	return &Version{
		ID: globalVersionID,
	}
}

// New connects to the configured Postgres database and migrates it.
func New(cfg *config.DB) (*DB, error) {
	g, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("connected to the DB")

	return Init(g, cfg.DropTableAtStart)
}

// Init migrates the indexer tables on an open connection, dropping them
// first if requested.
func Init(g *gorm.DB, dropTables bool) (*DB, error) {
	if dropTables {
		logger.Info("DB tables dropped at start")

		if err := g.Migrator().DropTable(entities...); err != nil {
			return nil, errors.Wrap(err, "dropping tables")
		}
	}

	if err := g.AutoMigrate(entities...); err != nil {
		return nil, errors.Wrap(err, "migrating tables")
	}

	logger.Debug("migrated DB entities")

	return &DB{g: g}, nil
}

func Connect(cfg *config.DB) (*gorm.DB, error) {
	dsn := formatDSN(cfg)

	gormLogLevel := getGormLogLevel(cfg)
	gormCfg := gorm.Config{
		Logger:          gormlogger.Default.LogMode(gormLogLevel),
		CreateBatchSize: createBatchSize,
	}

	return gorm.Open(postgres.Open(dsn), &gormCfg)
}

func getGormLogLevel(cfg *config.DB) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}

func formatDSN(cfg *config.DB) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}

	return u.String()
}

// ApplyBlock runs the atomic unit for one block: the block record is
// inserted, apply is run on the same transaction and PENDING is moved to the
// block height. If the height is already stored nothing else happens and
// false is returned, so re-applying a block is a no-op.
func (db *DB) ApplyBlock(ctx context.Context, block *Block, apply func(tx *gorm.DB) error) (bool, error) {
	applied := false

	err := db.g.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(block)
		if result.Error != nil {
			return errors.Wrap(result.Error, "inserting block")
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := apply(tx); err != nil {
			return err
		}

		if err := saveState(tx, PendingState, block.Height); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func (db *DB) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	block := new(Block)

	err := db.g.WithContext(ctx).Where("height = ?", sortable.EncodeUint64(height)).Take(block).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading block %d", height)
	}

	return block, nil
}

// GetLatestBlock returns the highest stored block.
func (db *DB) GetLatestBlock(ctx context.Context) (*Block, error) {
	block := new(Block)

	err := db.g.WithContext(ctx).Order("height DESC").Take(block).Error
	if err != nil {
		return nil, errors.Wrap(err, "loading latest block")
	}

	return block, nil
}

func (db *DB) SaveVersion(
	ctx context.Context, version *Version,
) error {
	return db.g.WithContext(ctx).Save(version).Error
}
