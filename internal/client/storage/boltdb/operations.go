package boltdb

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// ExistingTimestamps returns the subset of candidates already stored for the owner
func (s *Storage) ExistingTimestamps(ctx context.Context, owner api.OwnerID, candidates []api.TimestampBytes) ([]api.TimestampBytes, error) {
	existing := make([]api.TimestampBytes, 0)

	err := s.view(ctx, "check existing timestamps", func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, bucketOps, owner[:])
		if bucket == nil {
			// У владельца еще нет операций
			return nil
		}
		for _, ts := range candidates {
			if bucket.Get(ts[:]) != nil {
				existing = append(existing, ts)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return existing, nil
}

// Append durably stores an operation
func (s *Storage) Append(ctx context.Context, op models.Operation) error {
	return s.update(ctx, "append operation", func(tx *bbolt.Tx) error {
		_, err := appendOperation(tx, op)
		return err
	})
}

// appendOperation записывает операцию внутри транзакции.
// Возвращает false, если такая операция уже есть.
func appendOperation(tx *bbolt.Tx, op models.Operation) (bool, error) {
	bucket, err := createOwnerBucket(tx, bucketOps, op.Owner[:])
	if err != nil {
		return false, err
	}

	if stored := bucket.Get(op.Timestamp[:]); stored != nil {
		if bytes.Equal(stored, op.Ciphertext) {
			return false, nil
		}
		return false, fmt.Errorf("%w: owner %s timestamp %s", storage.ErrIntegrity, op.Owner, op.Timestamp)
	}

	// bbolt требует, чтобы значение жило до конца транзакции: передаем копию
	value := append([]byte(nil), op.Ciphertext...)
	if value == nil {
		value = []byte{}
	}
	if err := bucket.Put(op.Timestamp[:], value); err != nil {
		return false, fmt.Errorf("failed to save operation: %w", err)
	}
	return true, nil
}

// AllTimestamps returns all owner timestamps ordered by byte form
func (s *Storage) AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error) {
	result := make([]api.TimestampBytes, 0)

	err := s.view(ctx, "list timestamps", func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, bucketOps, owner[:])
		if bucket == nil {
			return nil
		}

		// Курсор BoltDB отдает ключи в порядке байтов
		return bucket.ForEach(func(k, _ []byte) error {
			if len(k) != api.TimestampSize {
				return fmt.Errorf("corrupted timestamp key of %d bytes", len(k))
			}
			var ts api.TimestampBytes
			copy(ts[:], k)
			result = append(result, ts)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Operations returns stored operations for the given timestamps
func (s *Storage) Operations(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]models.Operation, error) {
	var ops []models.Operation

	err := s.view(ctx, "load operations", func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, bucketOps, owner[:])
		if bucket == nil {
			return nil
		}
		for _, ts := range timestamps {
			value := bucket.Get(ts[:])
			if value == nil {
				continue
			}
			// Значения bbolt валидны только внутри транзакции
			ops = append(ops, models.Operation{
				Owner:      owner,
				Timestamp:  ts,
				Ciphertext: append([]byte(nil), value...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}
