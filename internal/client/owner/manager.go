// Package owner управляет владельцами данных на устройстве: создание,
// восстановление по секрету и разблокировка паролем.
package owner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

var (
	// ErrLocked владелец не разблокирован в этом процессе
	ErrLocked = errors.New("owner is locked")
	// ErrWrongPassphrase пароль не подходит к сохраненному секрету
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrOwnerExists владелец с таким секретом уже есть на устройстве
	ErrOwnerExists = errors.New("owner already exists on this device")
)

// Manager хранит секреты владельцев зашифрованными паролем и держит
// производные ключи разблокированных владельцев в памяти.
type Manager struct {
	store    storage.OwnerStorage
	logger   *slog.Logger
	unlocked map[api.OwnerID]*crypto.OwnerKeys
	mu       sync.RWMutex
}

// NewManager создает менеджер владельцев
func NewManager(store storage.OwnerStorage, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		unlocked: make(map[api.OwnerID]*crypto.OwnerKeys),
	}
}

// EncodeSecret представление секрета для резервной копии пользователя
func EncodeSecret(secret []byte) string {
	return base64.RawURLEncoding.EncodeToString(secret)
}

// DecodeSecret разбирает секрет из резервной копии
func DecodeSecret(s string) ([]byte, error) {
	secret, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid owner secret: %w", err)
	}
	if len(secret) != crypto.SecretSize {
		return nil, fmt.Errorf("owner secret must be %d bytes, got %d", crypto.SecretSize, len(secret))
	}
	return secret, nil
}

// Create создает нового владельца со случайным секретом.
// Возвращает запись владельца и секрет, который нужно показать пользователю.
func (m *Manager) Create(ctx context.Context, passphrase string) (*models.Owner, []byte, error) {
	secret, err := crypto.GenerateSecret()
	if err != nil {
		return nil, nil, err
	}

	owner, err := m.persist(ctx, secret, passphrase)
	if err != nil {
		return nil, nil, err
	}
	return owner, secret, nil
}

// Restore добавляет на устройство существующего владельца по его секрету.
// Устройство получает собственный идентификатор узла.
func (m *Manager) Restore(ctx context.Context, secret []byte, passphrase string) (*models.Owner, error) {
	return m.persist(ctx, secret, passphrase)
}

func (m *Manager) persist(ctx context.Context, secret []byte, passphrase string) (*models.Owner, error) {
	if err := validation.ValidatePassphrase(passphrase); err != nil {
		return nil, fmt.Errorf("invalid passphrase: %w", err)
	}

	keys, err := crypto.DeriveOwnerKeys(secret)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.GetOwner(ctx, keys.OwnerID); err == nil {
		return nil, ErrOwnerExists
	} else if !errors.Is(err, storage.ErrOwnerNotFound) {
		return nil, err
	}

	// 1. Соль и ключ из пароля
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	passKey, err := crypto.DerivePassphraseKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// 2. Шифруем секрет, AAD привязывает его к владельцу
	encrypted, err := crypto.Encrypt(secret, passKey, keys.OwnerID[:])
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt owner secret: %w", err)
	}

	// 3. Идентификатор узла этого устройства
	node, err := crdt.NewNodeID()
	if err != nil {
		return nil, err
	}

	owner := &models.Owner{
		ID:              keys.OwnerID,
		Node:            node.String(),
		Salt:            salt,
		EncryptedSecret: encrypted,
		CreatedAt:       time.Now(),
	}
	if err := m.store.SaveOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("failed to save owner: %w", err)
	}

	m.mu.Lock()
	m.unlocked[keys.OwnerID] = keys
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Owner added", "owner_id", keys.OwnerID.String(), "node", owner.Node)
	return owner, nil
}

// Secret расшифровывает секрет владельца паролем
func (m *Manager) Secret(ctx context.Context, id api.OwnerID, passphrase string) ([]byte, error) {
	owner, err := m.store.GetOwner(ctx, id)
	if err != nil {
		return nil, err
	}

	passKey, err := crypto.DerivePassphraseKey(passphrase, owner.Salt)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.Decrypt(owner.EncryptedSecret, passKey, id[:])
	if err != nil {
		if errors.Is(err, crypto.ErrDecrypt) {
			return nil, ErrWrongPassphrase
		}
		return nil, err
	}
	return secret, nil
}

// Unlock разблокирует владельца паролем
func (m *Manager) Unlock(ctx context.Context, id api.OwnerID, passphrase string) error {
	secret, err := m.Secret(ctx, id, passphrase)
	if err != nil {
		return err
	}

	keys, err := crypto.DeriveOwnerKeys(secret)
	if err != nil {
		return err
	}
	if keys.OwnerID != id {
		return fmt.Errorf("stored secret does not match owner %s", id)
	}

	m.mu.Lock()
	m.unlocked[id] = keys
	m.mu.Unlock()
	return nil
}

// Lock убирает ключи владельца из памяти
func (m *Manager) Lock(id api.OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.unlocked, id)
}

// Forget удаляет владельца и все его данные с устройства
func (m *Manager) Forget(ctx context.Context, id api.OwnerID) error {
	if err := m.store.DeleteOwner(ctx, id); err != nil {
		return fmt.Errorf("failed to delete owner: %w", err)
	}
	m.Lock(id)

	m.logger.InfoContext(ctx, "Owner removed", "owner_id", id.String())
	return nil
}

// List возвращает владельцев устройства
func (m *Manager) List(ctx context.Context) ([]*models.Owner, error) {
	return m.store.ListOwners(ctx)
}

func (m *Manager) keys(id api.OwnerID) (*crypto.OwnerKeys, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys, ok := m.unlocked[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	return keys, nil
}

// KeyFor возвращает ключ шифрования операций владельца
func (m *Manager) KeyFor(_ context.Context, id api.OwnerID) ([]byte, error) {
	keys, err := m.keys(id)
	if err != nil {
		return nil, err
	}
	return keys.EncryptionKey, nil
}

// WriteKey возвращает ключ записи на relay
func (m *Manager) WriteKey(_ context.Context, id api.OwnerID) ([]byte, error) {
	keys, err := m.keys(id)
	if err != nil {
		return nil, err
	}
	return keys.WriteKey, nil
}
