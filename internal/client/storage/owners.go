package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// OwnerStorage defines storage of owners registered on this device.
// It works with the encrypted owner secret and never sees the plaintext.
type OwnerStorage interface {
	// SaveOwner stores or replaces the owner record
	SaveOwner(ctx context.Context, owner *models.Owner) error

	// GetOwner returns the owner record
	// Returns ErrOwnerNotFound if the owner doesn't exist
	GetOwner(ctx context.Context, id api.OwnerID) (*models.Owner, error)

	// ListOwners returns all owners stored on the device
	ListOwners(ctx context.Context) ([]*models.Owner, error)

	// DeleteOwner removes the owner with all of its operations, rows and clock
	DeleteOwner(ctx context.Context, id api.OwnerID) error
}
