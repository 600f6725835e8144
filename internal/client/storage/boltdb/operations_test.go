package boltdb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

var (
	ownerX = api.OwnerID{0x0a}
	ownerY = api.OwnerID{0x0b}
)

func ts(b ...byte) api.TimestampBytes {
	var t api.TimestampBytes
	copy(t[:], b)
	return t
}

func op(owner api.OwnerID, timestamp api.TimestampBytes, body string) models.Operation {
	return models.Operation{Owner: owner, Timestamp: timestamp, Ciphertext: []byte(body)}
}

func TestStorage_ExistingTimestamps_OwnerIsolation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	t1, t2, t3 := ts(1), ts(2), ts(3)
	require.NoError(t, store.Append(ctx, op(ownerX, t1, "x1")))
	require.NoError(t, store.Append(ctx, op(ownerX, t2, "x2")))
	require.NoError(t, store.Append(ctx, op(ownerY, t3, "y3")))

	candidates := []api.TimestampBytes{t1, t2, t3}

	existingX, err := store.ExistingTimestamps(ctx, ownerX, candidates)
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{t1, t2}, existingX)

	existingY, err := store.ExistingTimestamps(ctx, ownerY, candidates)
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{t3}, existingY)

	existingZ, err := store.ExistingTimestamps(ctx, api.OwnerID{0x0c}, candidates)
	require.NoError(t, err)
	assert.Empty(t, existingZ)
}

func TestStorage_Append(t *testing.T) {
	tests := []struct {
		name    string
		first   models.Operation
		second  models.Operation
		wantErr error
	}{
		{
			name:   "same operation twice is a no-op",
			first:  op(ownerX, ts(1), "body"),
			second: op(ownerX, ts(1), "body"),
		},
		{
			name:    "same key different payload is an integrity error",
			first:   op(ownerX, ts(1), "body"),
			second:  op(ownerX, ts(1), "other"),
			wantErr: storage.ErrIntegrity,
		},
		{
			name:   "same timestamp in another owner is independent",
			first:  op(ownerX, ts(1), "body"),
			second: op(ownerY, ts(1), "other"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := createTestStorage(t)
			ctx := context.Background()

			require.NoError(t, store.Append(ctx, tt.first))
			err := store.Append(ctx, tt.second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, storage.ErrTransient)
			} else {
				assert.NoError(t, err)
			}

			// Первое тело никогда не перезаписывается
			ops, err := store.Operations(ctx, tt.first.Owner, []api.TimestampBytes{tt.first.Timestamp})
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, tt.first, ops[0])
		})
	}
}

func TestStorage_AllTimestamps_Ordered(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	inserted := []api.TimestampBytes{ts(5), ts(1, 9), ts(1), ts(0xff), ts(0, 0, 1)}
	for i, timestamp := range inserted {
		require.NoError(t, store.Append(ctx, op(ownerX, timestamp, string(rune('a'+i)))))
	}
	require.NoError(t, store.Append(ctx, op(ownerY, ts(3), "y")))

	all, err := store.AllTimestamps(ctx, ownerX)
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{ts(0, 0, 1), ts(1), ts(1, 9), ts(5), ts(0xff)}, all)

	empty, err := store.AllTimestamps(ctx, api.OwnerID{0x0c})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStorage_Operations_SkipsUnknown(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, op(ownerX, ts(1), "one")))
	require.NoError(t, store.Append(ctx, op(ownerY, ts(2), "two")))

	ops, err := store.Operations(ctx, ownerX, []api.TimestampBytes{ts(1), ts(2), ts(3)})
	require.NoError(t, err)
	assert.Equal(t, []models.Operation{op(ownerX, ts(1), "one")}, ops)
}

func TestStorage_ConcurrentAppendAndRead(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx, op(ownerX, ts(byte(i)), "body")))
		}(i)
		go func() {
			defer wg.Done()
			_, err := store.AllTimestamps(ctx, ownerX)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := store.AllTimestamps(ctx, ownerX)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}
