package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/iudanet/gophsync/pkg/api"
)

// Параметры Argon2id для ключа, которым шифруется секрет владельца
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
	// SaltSize - размер соли в байтах
	SaltSize = 32
	// SecretSize - размер секрета владельца
	SecretSize = 32
	// WriteKeySize - размер ключа записи на relay
	WriteKeySize = 16
)

// Контексты HKDF для независимых производных ключей
const (
	infoOwnerID    = "gophsync/owner-id"
	infoEncryption = "gophsync/encryption-key"
	infoWriteKey   = "gophsync/write-key"
)

// OwnerKeys производные значения секрета владельца
type OwnerKeys struct {
	EncryptionKey []byte // ключ AEAD для операций (32 bytes)
	WriteKey      []byte // ключ записи на relay (16 bytes)
	OwnerID       api.OwnerID
}

// GenerateSalt генерирует криптографически случайную соль
func GenerateSalt() ([]byte, error) {
	return randomBytes(SaltSize, "salt")
}

// GenerateSecret генерирует новый секрет владельца
func GenerateSecret() ([]byte, error) {
	return randomBytes(SecretSize, "owner secret")
}

func randomBytes(n int, what string) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return b, nil
}

// DerivePassphraseKey получает ключ шифрования секрета владельца из пароля (Argon2id).
func DerivePassphraseKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize), nil
}

// DeriveOwnerKeys выводит идентификатор владельца и ключи из секрета (HKDF-SHA256).
// Одинаковый секрет на разных устройствах дает одинаковые значения.
func DeriveOwnerKeys(secret []byte) (*OwnerKeys, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("owner secret must be %d bytes, got %d", SecretSize, len(secret))
	}

	keys := &OwnerKeys{}

	id, err := expand(secret, infoOwnerID, api.OwnerIDSize)
	if err != nil {
		return nil, err
	}
	copy(keys.OwnerID[:], id)

	if keys.EncryptionKey, err = expand(secret, infoEncryption, KeySize); err != nil {
		return nil, err
	}
	if keys.WriteKey, err = expand(secret, infoWriteKey, WriteKeySize); err != nil {
		return nil, err
	}
	return keys, nil
}

func expand(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", info, err)
	}
	return out, nil
}
