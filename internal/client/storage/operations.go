package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

//go:generate moq -out operationstorage_mock.go . OperationStorage

// OperationStorage defines the owner-scoped operation log and timestamp index.
// No method ever returns data of another owner.
type OperationStorage interface {
	// ExistingTimestamps returns the subset of candidates already stored for the owner
	ExistingTimestamps(ctx context.Context, owner api.OwnerID, candidates []api.TimestampBytes) ([]api.TimestampBytes, error)

	// Append durably stores an operation.
	// Appending an equal operation again is a no-op.
	// Returns ErrIntegrity if the key is already stored with a different payload.
	Append(ctx context.Context, op models.Operation) error

	// AllTimestamps returns all owner timestamps ordered by byte form
	AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error)

	// Operations returns stored operations for the given timestamps.
	// Unknown timestamps are skipped.
	Operations(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]models.Operation, error)
}
