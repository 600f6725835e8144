package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// TokenKey ключ подписи токенов доступа к relay: SHA256 от write key.
// Relay хранит только его, сам write key не покидает устройство.
func TokenKey(writeKey []byte) ([]byte, error) {
	if len(writeKey) == 0 {
		return nil, fmt.Errorf("write key cannot be empty")
	}
	sum := sha256.Sum256(writeKey)
	return sum[:], nil
}

// HashWriteKey возвращает hex-представление TokenKey (для регистрации на relay).
func HashWriteKey(writeKey []byte) (string, error) {
	key, err := TokenKey(writeKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// ParseTokenKey разбирает hex-представление ключа подписи.
func ParseTokenKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid token key: %w", err)
	}
	if len(key) != sha256.Size {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", sha256.Size, len(key))
	}
	return key, nil
}

// EqualTokenKeys сравнивает ключи за постоянное время
func EqualTokenKeys(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
