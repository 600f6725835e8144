package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// SaveOwner stores or replaces the owner record
func (s *Storage) SaveOwner(ctx context.Context, owner *models.Owner) error {
	if owner == nil {
		return fmt.Errorf("owner cannot be nil")
	}

	// Сериализуем owner в JSON
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("failed to marshal owner: %w", err)
	}

	return s.update(ctx, "save owner", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOwners).Put(append([]byte(nil), owner.ID[:]...), data)
	})
}

// GetOwner returns the owner record
func (s *Storage) GetOwner(ctx context.Context, id api.OwnerID) (*models.Owner, error) {
	var owner *models.Owner

	err := s.view(ctx, "get owner", func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOwners).Get(id[:])
		if data == nil {
			return storage.ErrOwnerNotFound
		}

		owner = &models.Owner{}
		if err := json.Unmarshal(data, owner); err != nil {
			return fmt.Errorf("failed to unmarshal owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return owner, nil
}

// ListOwners returns all owners stored on the device
func (s *Storage) ListOwners(ctx context.Context) ([]*models.Owner, error) {
	var owners []*models.Owner

	err := s.view(ctx, "list owners", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOwners).ForEach(func(_, v []byte) error {
			var owner models.Owner
			if err := json.Unmarshal(v, &owner); err != nil {
				return fmt.Errorf("failed to unmarshal owner: %w", err)
			}
			owners = append(owners, &owner)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return owners, nil
}

// DeleteOwner removes the owner with all of its operations, rows and clock
func (s *Storage) DeleteOwner(ctx context.Context, id api.OwnerID) error {
	return s.update(ctx, "delete owner", func(tx *bbolt.Tx) error {
		owners := tx.Bucket(bucketOwners)
		if owners.Get(id[:]) == nil {
			return storage.ErrOwnerNotFound
		}
		if err := owners.Delete(id[:]); err != nil {
			return fmt.Errorf("failed to delete owner: %w", err)
		}

		for _, parent := range [][]byte{bucketOps, bucketRows} {
			err := tx.Bucket(parent).DeleteBucket(id[:])
			if err != nil && !errors.Is(err, bolterrors.ErrBucketNotFound) {
				return fmt.Errorf("failed to delete %s of owner: %w", parent, err)
			}
		}

		if err := tx.Bucket(bucketClocks).Delete(id[:]); err != nil {
			return fmt.Errorf("failed to delete clock: %w", err)
		}
		return nil
	})
}
