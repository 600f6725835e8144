package boltdb

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// cellRecord сериализованная ячейка строки
type cellRecord struct {
	Value     json.RawMessage `json:"v"`
	Timestamp string          `json:"t"` // hex TimestampBytes
}

func rowKey(table, id string) []byte {
	key := make([]byte, 0, len(table)+1+len(id))
	key = append(key, table...)
	key = append(key, 0)
	return append(key, id...)
}

func encodeRow(row crdt.Row) ([]byte, error) {
	records := make(map[string]cellRecord, len(row))
	for column, cell := range row {
		ts, err := codec.TimestampToBytes(cell.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cell timestamp: %w", err)
		}
		records[column] = cellRecord{Value: cell.Value, Timestamp: ts.String()}
	}
	return json.Marshal(records)
}

func decodeRow(data []byte) (crdt.Row, error) {
	var records map[string]cellRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}

	row := make(crdt.Row, len(records))
	for column, rec := range records {
		raw, err := hex.DecodeString(rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cell timestamp: %w", err)
		}
		ts, err := codec.ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		row[column] = crdt.Cell{Value: rec.Value, Timestamp: ts}
	}
	return row, nil
}

// ApplyOperation appends the operation and applies its change in one transaction
func (s *Storage) ApplyOperation(ctx context.Context, op models.Operation, change *models.Change, ts crdt.Timestamp) (bool, error) {
	var applied bool

	err := s.update(ctx, "apply operation", func(tx *bbolt.Tx) error {
		inserted, err := appendOperation(tx, op)
		if err != nil {
			return err
		}
		if !inserted {
			// Повторное применение: строка уже учла эту операцию
			return nil
		}
		applied = true

		rows, err := createOwnerBucket(tx, bucketRows, op.Owner[:])
		if err != nil {
			return err
		}

		key := rowKey(change.Table, change.Row)
		row := crdt.Row{}
		if data := rows.Get(key); data != nil {
			if row, err = decodeRow(data); err != nil {
				return err
			}
		}

		if !row.Apply(change.Column, crdt.Cell{Value: change.Value, Timestamp: ts}) {
			// Значение проиграло LWW, операция все равно сохранена в логе
			return nil
		}

		data, err := encodeRow(row)
		if err != nil {
			return err
		}
		if err := rows.Put(key, data); err != nil {
			return fmt.Errorf("failed to save row: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// GetRow returns the row columns
func (s *Storage) GetRow(ctx context.Context, owner api.OwnerID, table, id string) (crdt.Row, error) {
	var row crdt.Row

	err := s.view(ctx, "get row", func(tx *bbolt.Tx) error {
		rows := ownerBucket(tx, bucketRows, owner[:])
		if rows == nil {
			return storage.ErrRowNotFound
		}
		data := rows.Get(rowKey(table, id))
		if data == nil {
			return storage.ErrRowNotFound
		}

		var err error
		row, err = decodeRow(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return row, nil
}

// ListRows returns all rows of a table keyed by row id
func (s *Storage) ListRows(ctx context.Context, owner api.OwnerID, table string) (map[string]crdt.Row, error) {
	result := make(map[string]crdt.Row)

	err := s.view(ctx, "list rows", func(tx *bbolt.Tx) error {
		rows := ownerBucket(tx, bucketRows, owner[:])
		if rows == nil {
			return nil
		}

		prefix := rowKey(table, "")
		c := rows.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			result[string(k[len(prefix):])] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
