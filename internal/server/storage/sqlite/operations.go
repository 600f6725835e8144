package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// queryChunk ограничение количества параметров в одном IN (...)
const queryChunk = 500

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// forChunks вызывает fn для последовательных частей списка меток
func forChunks(list []api.TimestampBytes, fn func(chunk []api.TimestampBytes) error) error {
	for start := 0; start < len(list); start += queryChunk {
		end := min(start+queryChunk, len(list))
		if err := fn(list[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func chunkArgs(owner api.OwnerID, chunk []api.TimestampBytes) []any {
	args := make([]any, 0, len(chunk)+1)
	args = append(args, owner[:])
	for i := range chunk {
		args = append(args, chunk[i][:])
	}
	return args
}

func scanTimestamp(raw []byte) (api.TimestampBytes, error) {
	var ts api.TimestampBytes
	if len(raw) != api.TimestampSize {
		return ts, fmt.Errorf("corrupted timestamp of %d bytes", len(raw))
	}
	copy(ts[:], raw)
	return ts, nil
}

// ExistingTimestamps returns the subset of candidates already stored for the owner
func (s *Storage) ExistingTimestamps(ctx context.Context, owner api.OwnerID, candidates []api.TimestampBytes) ([]api.TimestampBytes, error) {
	found := make(map[api.TimestampBytes]struct{})

	err := forChunks(candidates, func(chunk []api.TimestampBytes) error {
		query := `SELECT t FROM sync_timestamp WHERE owner_id = ? AND t IN (` + placeholders(len(chunk)) + `)`
		rows, err := s.db.QueryContext(ctx, query, chunkArgs(owner, chunk)...)
		if err != nil {
			return transient("query existing timestamps", err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return transient("scan timestamp", err)
			}
			ts, err := scanTimestamp(raw)
			if err != nil {
				return err
			}
			found[ts] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return transient("iterate timestamps", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Сохраняем порядок кандидатов
	existing := make([]api.TimestampBytes, 0, len(found))
	for _, ts := range candidates {
		if _, ok := found[ts]; ok {
			existing = append(existing, ts)
		}
	}
	return existing, nil
}

// Append stores an operation and accounts its size against the owner quota
func (s *Storage) Append(ctx context.Context, op models.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var stored []byte
	err = tx.QueryRowContext(ctx,
		`SELECT change FROM sync_message WHERE owner_id = ? AND t = ?`,
		op.Owner[:], op.Timestamp[:],
	).Scan(&stored)
	switch {
	case err == nil:
		if !op.SameBody(models.Operation{Ciphertext: stored}) {
			return fmt.Errorf("%w: owner %s timestamp %s", storage.ErrIntegrity, op.Owner, op.Timestamp)
		}
		// Повторная запись той же операции
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return transient("check existing operation", err)
	}

	var used int64
	err = tx.QueryRowContext(ctx, `SELECT used_bytes FROM owner WHERE owner_id = ?`, op.Owner[:]).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrOwnerNotFound
	}
	if err != nil {
		return transient("load owner quota", err)
	}

	size := int64(len(op.Ciphertext))
	if s.quotaBytes > 0 && used+size > s.quotaBytes {
		return fmt.Errorf("%w: used %d of %d bytes", storage.ErrQuotaExceeded, used, s.quotaBytes)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_timestamp (owner_id, t) VALUES (?, ?)`,
		op.Owner[:], op.Timestamp[:],
	); err != nil {
		return transient("insert timestamp", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_message (owner_id, t, change) VALUES (?, ?, ?)`,
		op.Owner[:], op.Timestamp[:], op.Ciphertext,
	); err != nil {
		return transient("insert message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE owner SET used_bytes = used_bytes + ? WHERE owner_id = ?`,
		size, op.Owner[:],
	); err != nil {
		return transient("update used bytes", err)
	}

	if err := tx.Commit(); err != nil {
		return transient("commit operation", err)
	}
	return nil
}

// AllTimestamps returns all owner timestamps ordered by byte form
func (s *Storage) AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error) {
	// BLOB сравнивается через memcmp: порядок совпадает с порядком меток
	rows, err := s.db.QueryContext(ctx,
		`SELECT t FROM sync_timestamp WHERE owner_id = ? ORDER BY t`, owner[:])
	if err != nil {
		return nil, transient("query timestamps", err)
	}
	defer rows.Close()

	result := make([]api.TimestampBytes, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, transient("scan timestamp", err)
		}
		ts, err := scanTimestamp(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate timestamps", err)
	}

	return result, nil
}

// Operations returns stored operations for the given timestamps
func (s *Storage) Operations(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]models.Operation, error) {
	byTimestamp := make(map[api.TimestampBytes][]byte, len(timestamps))

	err := forChunks(timestamps, func(chunk []api.TimestampBytes) error {
		query := `SELECT t, change FROM sync_message WHERE owner_id = ? AND t IN (` + placeholders(len(chunk)) + `)`
		rows, err := s.db.QueryContext(ctx, query, chunkArgs(owner, chunk)...)
		if err != nil {
			return transient("query operations", err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw, change []byte
			if err := rows.Scan(&raw, &change); err != nil {
				return transient("scan operation", err)
			}
			ts, err := scanTimestamp(raw)
			if err != nil {
				return err
			}
			byTimestamp[ts] = change
		}
		if err := rows.Err(); err != nil {
			return transient("iterate operations", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ops := make([]models.Operation, 0, len(byTimestamp))
	for _, ts := range timestamps {
		if change, ok := byTimestamp[ts]; ok {
			ops = append(ops, models.Operation{Owner: owner, Timestamp: ts, Ciphertext: change})
		}
	}
	return ops, nil
}
