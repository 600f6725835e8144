package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// OperationStorage defines the relay operation log and timestamp index.
// All methods are scoped by owner; the relay never decrypts payloads.
type OperationStorage interface {
	// ExistingTimestamps returns the subset of candidates already stored for the owner
	ExistingTimestamps(ctx context.Context, owner api.OwnerID, candidates []api.TimestampBytes) ([]api.TimestampBytes, error)

	// Append stores an operation and accounts its size against the owner quota.
	// Appending an equal operation again is a no-op.
	// Returns ErrIntegrity on a colliding key and ErrQuotaExceeded when the quota is exhausted
	Append(ctx context.Context, op models.Operation) error

	// AllTimestamps returns all owner timestamps ordered by byte form
	AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error)

	// Operations returns stored operations for the given timestamps
	Operations(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]models.Operation, error)
}
