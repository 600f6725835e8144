package boltdb

import (
	"bytes"
	"context"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/pkg/api"
)

// SaveClock stores the last issued or received timestamp.
// An older timestamp never replaces a newer one.
func (s *Storage) SaveClock(ctx context.Context, owner api.OwnerID, last crdt.Timestamp) error {
	ts, err := codec.TimestampToBytes(last)
	if err != nil {
		return err
	}

	return s.update(ctx, "save clock", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClocks)
		// Порядок байтов метки совпадает с порядком меток
		if stored := b.Get(owner[:]); stored != nil && bytes.Compare(stored, ts[:]) >= 0 {
			return nil
		}
		return b.Put(append([]byte(nil), owner[:]...), ts[:])
	})
}

// LoadClock returns the stored timestamp and false if none was saved yet
func (s *Storage) LoadClock(ctx context.Context, owner api.OwnerID) (crdt.Timestamp, bool, error) {
	var (
		last  crdt.Timestamp
		found bool
	)

	err := s.view(ctx, "load clock", func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketClocks).Get(owner[:])
		if data == nil {
			return nil
		}
		ts, err := codec.ParseTimestamp(data)
		if err != nil {
			return err
		}
		last, found = ts, true
		return nil
	})
	if err != nil {
		return crdt.Timestamp{}, false, err
	}

	return last, found, nil
}
