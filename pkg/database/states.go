package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Hanssen0/ckb-indexer/pkg/sortable"
)

const (
	// PendingState is the last block applied by the sync loop.
	PendingState string = "PENDING"
	// ConfirmedState is the height up to which history has been collapsed.
	ConfirmedState string = "CONFIRMED"
)

type State struct {
	Name    string `gorm:"primaryKey;type:varchar(50)"`
	Value   string `gorm:"type:varchar(80)"`
	Updated time.Time
}

func (s *State) Height() (sortable.Height, error) {
	return sortable.Decode(s.Value)
}

// LookupState returns the named watermark, or nil if it was never written.
func (db *DB) LookupState(ctx context.Context, name string) (*State, error) {
	state := new(State)

	err := db.g.WithContext(ctx).Where(&State{Name: name}).Take(state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading state %s", name)
	}

	return state, nil
}

// GetPending returns PENDING, creating it at startHeight on first use.
func (db *DB) GetPending(ctx context.Context, startHeight uint64) (uint64, error) {
	state, err := db.getOrInitState(ctx, PendingState, sortable.EncodeUint64(startHeight))
	if err != nil {
		return 0, err
	}

	height, err := sortable.DecodeUint64(state.Value)
	if err != nil {
		return 0, errors.Wrap(err, "decoding PENDING")
	}

	return height, nil
}

// GetConfirmed returns CONFIRMED, creating it as the permanent marker on
// first use.
func (db *DB) GetConfirmed(ctx context.Context) (sortable.Height, error) {
	state, err := db.getOrInitState(ctx, ConfirmedState, sortable.Permanent)
	if err != nil {
		return sortable.Height{}, err
	}

	height, err := state.Height()
	if err != nil {
		return sortable.Height{}, errors.Wrap(err, "decoding CONFIRMED")
	}

	return height, nil
}

func (db *DB) SetConfirmed(ctx context.Context, height uint64) error {
	return saveState(db.g.WithContext(ctx), ConfirmedState, sortable.EncodeUint64(height))
}

func (db *DB) getOrInitState(ctx context.Context, name, initial string) (*State, error) {
	state := new(State)

	err := db.g.WithContext(ctx).
		Where(&State{Name: name}).
		Attrs(&State{Value: initial, Updated: time.Now()}).
		FirstOrCreate(state).
		Error
	if err != nil {
		return nil, errors.Wrapf(err, "initializing state %s", name)
	}

	return state, nil
}

func saveState(tx *gorm.DB, name, value string) error {
	err := tx.Save(&State{Name: name, Value: value, Updated: time.Now()}).Error
	if err != nil {
		return errors.Wrapf(err, "saving state %s", name)
	}

	return nil
}
