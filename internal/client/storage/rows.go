package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// RowStorage defines the materialized LWW rows built from applied operations
type RowStorage interface {
	// ApplyOperation appends the operation and applies its change to the row
	// in one transaction. Returns false if the operation was already stored.
	ApplyOperation(ctx context.Context, op models.Operation, change *models.Change, ts crdt.Timestamp) (bool, error)

	// GetRow returns the row columns
	// Returns ErrRowNotFound if no column was ever written
	GetRow(ctx context.Context, owner api.OwnerID, table, id string) (crdt.Row, error)

	// ListRows returns all rows of a table keyed by row id
	ListRows(ctx context.Context, owner api.OwnerID, table string) (map[string]crdt.Row, error)
}

// ClockStorage persists the last HLC timestamp of this device per owner
type ClockStorage interface {
	// SaveClock stores the last issued or received timestamp; an older one never replaces a newer one
	SaveClock(ctx context.Context, owner api.OwnerID, last crdt.Timestamp) error

	// LoadClock returns the stored timestamp and false if none was saved yet
	LoadClock(ctx context.Context, owner api.OwnerID) (crdt.Timestamp, bool, error)
}
