package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// RegisterOwner stores the owner token key, the first writer wins
func (s *Storage) RegisterOwner(ctx context.Context, owner *models.RelayOwner) (bool, error) {
	if owner == nil {
		return false, fmt.Errorf("owner cannot be nil")
	}

	createdAt := owner.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO owner (owner_id, token_key, used_bytes, created_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT (owner_id) DO NOTHING`,
		owner.ID[:], owner.TokenKey, createdAt.Unix(),
	)
	if err != nil {
		return false, transient("insert owner", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, transient("read affected rows", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Владелец уже есть: повтор с тем же ключом допустим
	existing, err := s.GetOwner(ctx, owner.ID)
	if err != nil {
		return false, err
	}
	if !crypto.EqualTokenKeys(existing.TokenKey, owner.TokenKey) {
		return false, storage.ErrOwnerMismatch
	}
	return false, nil
}

// GetOwner retrieves owner by ID
func (s *Storage) GetOwner(ctx context.Context, id api.OwnerID) (*models.RelayOwner, error) {
	var (
		owner     = &models.RelayOwner{ID: id}
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT token_key, used_bytes, created_at FROM owner WHERE owner_id = ?`, id[:],
	).Scan(&owner.TokenKey, &owner.UsedBytes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrOwnerNotFound
	}
	if err != nil {
		return nil, transient("get owner", err)
	}

	owner.CreatedAt = time.Unix(createdAt, 0)
	return owner, nil
}
