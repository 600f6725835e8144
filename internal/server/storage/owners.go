package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// OwnerStorage defines interface for owners registered on the relay
type OwnerStorage interface {
	// RegisterOwner stores the owner token key. The first writer wins:
	// registering again with the same key is a no-op (created = false),
	// with a different key returns ErrOwnerMismatch
	RegisterOwner(ctx context.Context, owner *models.RelayOwner) (created bool, err error)

	// GetOwner retrieves owner by ID
	// Returns ErrOwnerNotFound if owner doesn't exist
	GetOwner(ctx context.Context, id api.OwnerID) (*models.RelayOwner, error)
}
