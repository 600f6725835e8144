package owner

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/crypto"
)

const passphrase = "correct horse battery"

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "owners.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewManager(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestManager_CreateAndUnlock(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	owner, secret, err := m.Create(ctx, passphrase)
	require.NoError(t, err)
	assert.Len(t, secret, crypto.SecretSize)
	assert.NotContains(t, string(owner.EncryptedSecret), string(secret))

	_, err = crdt.ParseNodeID(owner.Node)
	require.NoError(t, err)

	keys, err := crypto.DeriveOwnerKeys(secret)
	require.NoError(t, err)
	assert.Equal(t, keys.OwnerID, owner.ID)

	// Созданный владелец сразу разблокирован
	key, err := m.KeyFor(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, keys.EncryptionKey, key)

	m.Lock(owner.ID)
	_, err = m.KeyFor(ctx, owner.ID)
	assert.ErrorIs(t, err, ErrLocked)
	_, err = m.WriteKey(ctx, owner.ID)
	assert.ErrorIs(t, err, ErrLocked)

	assert.ErrorIs(t, m.Unlock(ctx, owner.ID, "wrong passphrase!"), ErrWrongPassphrase)

	require.NoError(t, m.Unlock(ctx, owner.ID, passphrase))
	writeKey, err := m.WriteKey(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, keys.WriteKey, writeKey)
}

func TestManager_CreateWeakPassphrase(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Create(context.Background(), "short")
	assert.Error(t, err)
}

func TestManager_RestoreOnAnotherDevice(t *testing.T) {
	ctx := context.Background()
	first := newTestManager(t)
	second := newTestManager(t)

	created, secret, err := first.Create(ctx, passphrase)
	require.NoError(t, err)

	decoded, err := DecodeSecret(EncodeSecret(secret))
	require.NoError(t, err)

	restored, err := second.Restore(ctx, decoded, "another passphrase")
	require.NoError(t, err)
	assert.Equal(t, created.ID, restored.ID)
	assert.NotEqual(t, created.Node, restored.Node, "every device gets its own node")

	k1, err := first.KeyFor(ctx, created.ID)
	require.NoError(t, err)
	k2, err := second.KeyFor(ctx, restored.ID)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	_, err = second.Restore(ctx, decoded, "another passphrase")
	assert.ErrorIs(t, err, ErrOwnerExists)
}

func TestDecodeSecret_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not base64", input: "***"},
		{name: "wrong length", input: EncodeSecret([]byte("short"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSecret(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestManager_Forget(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	owner, _, err := m.Create(ctx, passphrase)
	require.NoError(t, err)

	require.NoError(t, m.Forget(ctx, owner.ID))

	_, err = m.KeyFor(ctx, owner.ID)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, m.Unlock(ctx, owner.ID, passphrase), storage.ErrOwnerNotFound)

	owners, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)
}
