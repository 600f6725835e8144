package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

var (
	ownerX = api.OwnerID{0x01}
	ownerY = api.OwnerID{0x02}
)

func TestOperationStorage_ExistingTimestamps_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)
	registerTestOwner(t, ctx, s, ownerY)

	t1, t2, t3 := ts(1000, 1), ts(2000, 1), ts(3000, 2)
	require.NoError(t, s.Append(ctx, op(ownerX, t1, "a")))
	require.NoError(t, s.Append(ctx, op(ownerX, t2, "b")))
	require.NoError(t, s.Append(ctx, op(ownerY, t3, "c")))

	existing, err := s.ExistingTimestamps(ctx, ownerX, []api.TimestampBytes{t1, t3})
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{t1}, existing)

	existing, err = s.ExistingTimestamps(ctx, ownerY, []api.TimestampBytes{t1, t2, t3})
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{t3}, existing)

	existing, err = s.ExistingTimestamps(ctx, ownerX, nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestOperationStorage_ExistingTimestamps_ManyCandidates(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)

	// Больше одной пачки параметров IN (...)
	candidates := make([]api.TimestampBytes, 0, queryChunk*2+10)
	var want []api.TimestampBytes
	for i := 0; i < queryChunk*2+10; i++ {
		stamp := ts(uint64(1000+i), 7)
		candidates = append(candidates, stamp)
		if i%3 == 0 {
			want = append(want, stamp)
		}
	}
	for _, stamp := range want {
		require.NoError(t, s.Append(ctx, op(ownerX, stamp, "x")))
	}

	existing, err := s.ExistingTimestamps(ctx, ownerX, candidates)
	require.NoError(t, err)
	assert.Equal(t, want, existing)
}

func TestOperationStorage_Append(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)
	require.NoError(t, s.Append(ctx, op(ownerX, ts(1000, 1), "first")))

	tests := []struct {
		wantError error
		name      string
		owner     api.OwnerID
		t         api.TimestampBytes
		body      string
	}{
		{
			name:  "new operation",
			owner: ownerX,
			t:     ts(2000, 1),
			body:  "second",
		},
		{
			name:  "same operation again is a no-op",
			owner: ownerX,
			t:     ts(1000, 1),
			body:  "first",
		},
		{
			name:      "same key with different body",
			owner:     ownerX,
			t:         ts(1000, 1),
			body:      "tampered",
			wantError: storage.ErrIntegrity,
		},
		{
			name:      "unregistered owner",
			owner:     api.OwnerID{0xff},
			t:         ts(1000, 1),
			body:      "first",
			wantError: storage.ErrOwnerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(ctx, op(tt.owner, tt.t, tt.body))
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			ops, err := s.Operations(ctx, tt.owner, []api.TimestampBytes{tt.t})
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, []byte(tt.body), ops[0].Ciphertext)
		})
	}

	// Повтор и конфликт не учитываются в квоте
	owner, err := s.GetOwner(ctx, ownerX)
	require.NoError(t, err)
	assert.Equal(t, int64(len("first")+len("second")), owner.UsedBytes)
}

func TestOperationStorage_Quota(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t, WithQuota(10))
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)
	registerTestOwner(t, ctx, s, ownerY)

	require.NoError(t, s.Append(ctx, op(ownerX, ts(1, 1), "123456")))
	require.NoError(t, s.Append(ctx, op(ownerX, ts(2, 1), "7890")))

	err := s.Append(ctx, op(ownerX, ts(3, 1), "!"))
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)

	existing, err := s.ExistingTimestamps(ctx, ownerX, []api.TimestampBytes{ts(3, 1)})
	require.NoError(t, err)
	assert.Empty(t, existing, "rejected operation must not be stored")

	// Квота считается на владельца
	require.NoError(t, s.Append(ctx, op(ownerY, ts(3, 1), "!")))
}

func TestOperationStorage_AllTimestampsOrdered(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)

	inserted := []api.TimestampBytes{ts(5000, 1), ts(1000, 9), ts(1000, 2), ts(300000, 0)}
	for i, stamp := range inserted {
		require.NoError(t, s.Append(ctx, op(ownerX, stamp, fmt.Sprint(i))))
	}

	got, err := s.AllTimestamps(ctx, ownerX)
	require.NoError(t, err)
	assert.Equal(t, []api.TimestampBytes{ts(1000, 2), ts(1000, 9), ts(5000, 1), ts(300000, 0)}, got)

	empty, err := s.AllTimestamps(ctx, ownerY)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOperationStorage_Operations(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	registerTestOwner(t, ctx, s, ownerX)
	registerTestOwner(t, ctx, s, ownerY)

	require.NoError(t, s.Append(ctx, op(ownerX, ts(1, 1), "a")))
	require.NoError(t, s.Append(ctx, op(ownerX, ts(2, 1), "b")))
	require.NoError(t, s.Append(ctx, op(ownerY, ts(3, 1), "c")))

	ops, err := s.Operations(ctx, ownerX, []api.TimestampBytes{ts(2, 1), ts(3, 1), ts(1, 1)})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, op(ownerX, ts(2, 1), "b"), ops[0])
	assert.Equal(t, op(ownerX, ts(1, 1), "a"), ops[1])
}
