package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/pkg/api"
)

const (
	// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// KeySize - размер ключа AES-256
	KeySize = 32
	// Overhead - nonce + auth tag
	Overhead = NonceSize + 16
)

// ErrDecrypt шифротекст не прошел проверку подлинности.
// Повреждение шифротекста не временное состояние, такие ошибки не повторяются.
var ErrDecrypt = errors.New("decryption failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	// Создаем AES cipher block
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Encrypt шифрует данные с использованием AES-256-GCM.
// aad аутентифицируется, но не шифруется (для операций: ownerId || timestamp).
// Формат результата: nonce (12 bytes) + ciphertext + auth_tag (16 bytes)
func Encrypt(plaintext, key, aad []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Генерируем случайный nonce
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aesGCM.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal дописывает ciphertext и tag сразу после nonce
	return aesGCM.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt дешифрует данные, зашифрованные с помощью Encrypt, с тем же aad.
// Любое несоответствие (ключ, aad, поврежденные байты) дает ErrDecrypt.
func Decrypt(encrypted, key, aad []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(encrypted) < NonceSize+aesGCM.Overhead() {
		return nil, fmt.Errorf("%w: encrypted data too short", ErrDecrypt)
	}

	nonce := encrypted[:NonceSize]
	ciphertext := encrypted[NonceSize:]

	// Дешифруем и проверяем authentication tag
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed or corrupted data", ErrDecrypt)
	}

	return plaintext, nil
}

// OperationAAD связывает шифротекст с владельцем и меткой операции:
// подмена шифротекста между владельцами или метками обнаруживается при дешифровании.
func OperationAAD(owner api.OwnerID, ts api.TimestampBytes) []byte {
	aad := make([]byte, 0, api.OwnerIDSize+api.TimestampSize)
	aad = append(aad, owner[:]...)
	return append(aad, ts[:]...)
}
