package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWriteKey(t *testing.T) {
	writeKey := []byte("0123456789abcdef")

	hashed, err := HashWriteKey(writeKey)
	require.NoError(t, err)

	sum := sha256.Sum256(writeKey)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashed)

	raw, err := TokenKey(writeKey)
	require.NoError(t, err)
	parsed, err := ParseTokenKey(hashed)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed)

	_, err = HashWriteKey(nil)
	assert.Error(t, err)
}

func TestParseTokenKey_Invalid(t *testing.T) {
	_, err := ParseTokenKey("not-hex")
	assert.Error(t, err)

	_, err = ParseTokenKey("abcd")
	assert.Error(t, err)
}

func TestEqualTokenKeys(t *testing.T) {
	a, err := HashWriteKey([]byte("key-a"))
	require.NoError(t, err)
	b, err := HashWriteKey([]byte("key-b"))
	require.NoError(t, err)

	assert.True(t, EqualTokenKeys(a, a))
	assert.False(t, EqualTokenKeys(a, b))
}
