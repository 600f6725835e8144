package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/pkg/api"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncrypt(t *testing.T) {
	validKey := make([]byte, 32)
	_, _ = rand.Read(validKey)

	tests := []struct {
		name      string
		errMsg    string
		plaintext []byte
		key       []byte
		wantErr   bool
	}{
		{
			name:      "successful encryption",
			plaintext: []byte(`{"table":"todo","id":"1","column":"title","value":"x"}`),
			key:       validKey,
		},
		{
			name:      "empty plaintext",
			plaintext: []byte{},
			key:       validKey,
			wantErr:   true,
			errMsg:    "plaintext cannot be empty",
		},
		{
			name:      "invalid key length - too short",
			plaintext: []byte("test"),
			key:       make([]byte, 16), // неправильная длина
			wantErr:   true,
			errMsg:    "encryption key must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, tt.key, []byte("aad"))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Len(t, encrypted, len(tt.plaintext)+Overhead)
			assert.NotContains(t, string(encrypted), string(tt.plaintext))
		})
	}
}

func TestDecrypt(t *testing.T) {
	key := testKey(t)
	owner := api.OwnerID{1}
	ts := api.TimestampBytes{2}
	aad := OperationAAD(owner, ts)

	encrypted, err := Encrypt([]byte("secret value"), key, aad)
	require.NoError(t, err)

	t.Run("roundtrip", func(t *testing.T) {
		plaintext, err := Decrypt(encrypted, key, aad)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret value"), plaintext)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := Decrypt(encrypted, testKey(t), aad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("wrong owner in aad", func(t *testing.T) {
		_, err := Decrypt(encrypted, key, OperationAAD(api.OwnerID{9}, ts))
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("wrong timestamp in aad", func(t *testing.T) {
		_, err := Decrypt(encrypted, key, OperationAAD(owner, api.TimestampBytes{3}))
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("corrupted ciphertext", func(t *testing.T) {
		corrupted := append([]byte(nil), encrypted...)
		corrupted[len(corrupted)-1] ^= 0xff
		_, err := Decrypt(corrupted, key, aad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Decrypt(encrypted[:NonceSize], key, aad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("invalid key is not a decrypt error", func(t *testing.T) {
		_, err := Decrypt(encrypted, make([]byte, 10), aad)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDecrypt)
	})
}

func TestEncrypt_Randomness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext")

	first, err := Encrypt(plaintext, key, nil)
	require.NoError(t, err)
	second, err := Encrypt(plaintext, key, nil)
	require.NoError(t, err)

	// Разные nonce дают разные шифротексты
	assert.NotEqual(t, first, second)
}

func TestOperationAAD(t *testing.T) {
	aad := OperationAAD(api.OwnerID{1, 2}, api.TimestampBytes{3, 4})
	require.Len(t, aad, api.OwnerIDSize+api.TimestampSize)
	assert.Equal(t, byte(1), aad[0])
	assert.Equal(t, byte(3), aad[api.OwnerIDSize])
}
