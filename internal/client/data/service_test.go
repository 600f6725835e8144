package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

const baseMillis int64 = 1_700_000_000_000

var testOwner = api.OwnerID{0x07}

type staticKeys struct {
	key []byte
}

func (k staticKeys) KeyFor(context.Context, api.OwnerID) ([]byte, error) {
	return k.key, nil
}

type countingNotifier struct {
	owners []api.OwnerID
}

func (n *countingNotifier) NotifyWrite(owner api.OwnerID) {
	n.owners = append(n.owners, owner)
}

type replica struct {
	service *Service
	store   *boltdb.Storage
	trees   *fingerprint.Cache
	now     *int64
}

func newReplica(t *testing.T, key []byte, node string) *replica {
	t.Helper()
	ctx := context.Background()

	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveOwner(ctx, &models.Owner{
		ID:        testOwner,
		Node:      node,
		CreatedAt: time.Now(),
	}))

	now := baseMillis
	trees := fingerprint.NewCache(store, fingerprint.DefaultOptions())
	service := NewService(store, staticKeys{key: key}, trees, crdt.DefaultClockConfig(),
		func() int64 { return now }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &replica{service: service, store: store, trees: trees, now: &now}
}

func testKey() []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestService_MutateAndGet(t *testing.T) {
	ctx := context.Background()
	r := newReplica(t, testKey(), "0000000000000001")
	notifier := &countingNotifier{}
	r.service.SetNotifier(notifier)

	first, err := r.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`"buy milk"`))
	require.NoError(t, err)
	second, err := r.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`"buy bread"`))
	require.NoError(t, err)
	assert.True(t, first.Less(second), "timestamps grow monotonically")

	row, err := r.service.Get(ctx, testOwner, "todo", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `"buy bread"`, string(row["title"]))

	assert.Equal(t, uint64(2), r.service.Generation(testOwner))
	assert.Equal(t, []api.OwnerID{testOwner, testOwner}, notifier.owners)

	// Операции лежат в журнале зашифрованными
	timestamps, err := r.store.AllTimestamps(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, timestamps, 2)
	ops, err := r.store.Operations(ctx, testOwner, timestamps)
	require.NoError(t, err)
	assert.NotContains(t, string(ops[0].Ciphertext), "milk")

	// Часы сохранены
	last, ok, err := r.store.LoadClock(ctx, testOwner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(second))
}

func TestService_ConcurrentMutateSavesLatestClock(t *testing.T) {
	ctx := context.Background()
	r := newReplica(t, testKey(), "0000000000000001")

	const writers = 16
	issued := make([]crdt.Timestamp, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts, err := r.service.Mutate(ctx, testOwner, "todo", fmt.Sprintf("%d", i), "title", json.RawMessage(`"x"`))
			assert.NoError(t, err)
			issued[i] = ts
		}()
	}
	wg.Wait()

	latest := issued[0]
	for _, ts := range issued[1:] {
		if latest.Less(ts) {
			latest = ts
		}
	}

	// Сохраненные часы не отстают от последней выданной метки при любом порядке записей
	last, ok, err := r.store.LoadClock(ctx, testOwner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(latest), "stored %v, latest issued %v", last, latest)
}

func TestService_MutateInvalid(t *testing.T) {
	ctx := context.Background()
	r := newReplica(t, testKey(), "0000000000000001")

	tests := []struct {
		name   string
		table  string
		row    string
		column string
		value  string
	}{
		{name: "bad table", table: "to do", row: "1", column: "title", value: `1`},
		{name: "empty row", table: "todo", row: "", column: "title", value: `1`},
		{name: "bad column", table: "todo", row: "1", column: "1title", value: `1`},
		{name: "invalid json", table: "todo", row: "1", column: "title", value: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.service.Mutate(ctx, testOwner, tt.table, tt.row, tt.column, json.RawMessage(tt.value))
			assert.ErrorIs(t, err, ErrInvalidChange)
		})
	}
	assert.Zero(t, r.service.Generation(testOwner))
}

func TestService_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	key := testKey()
	a := newReplica(t, key, "000000000000000a")
	b := newReplica(t, key, "000000000000000b")

	_, err := a.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`"from a"`))
	require.NoError(t, err)

	timestamps, err := a.store.AllTimestamps(ctx, testOwner)
	require.NoError(t, err)
	ops, err := a.store.Operations(ctx, testOwner, timestamps)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	require.NoError(t, b.service.Precheck(ctx, ops))
	require.NoError(t, b.service.Apply(ctx, ops[0]))

	row, err := b.service.Get(ctx, testOwner, "todo", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `"from a"`, string(row["title"]))

	// Часы b продвинулись: следующая локальная запись b побеждает запись a
	later, err := b.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`"from b"`))
	require.NoError(t, err)
	assert.True(t, codec.BytesToTimestamp(ops[0].Timestamp).Less(later))
}

func TestService_ApplyRejectsDrift(t *testing.T) {
	ctx := context.Background()
	key := testKey()
	a := newReplica(t, key, "000000000000000a")
	b := newReplica(t, key, "000000000000000b")

	// Часы a ушли на 6 минут вперед
	*a.now = baseMillis + (6 * time.Minute).Milliseconds()
	_, err := a.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`"future"`))
	require.NoError(t, err)

	timestamps, err := a.store.AllTimestamps(ctx, testOwner)
	require.NoError(t, err)
	ops, err := a.store.Operations(ctx, testOwner, timestamps)
	require.NoError(t, err)

	var driftErr *crdt.DriftError
	assert.ErrorAs(t, b.service.Precheck(ctx, ops), &driftErr)
	assert.ErrorIs(t, b.service.Apply(ctx, ops[0]), crdt.ErrClock)

	_, err = b.service.Get(ctx, testOwner, "todo", "1")
	assert.ErrorIs(t, err, storage.ErrRowNotFound, "drifted operation is never merged")
}

func TestService_ApplyWrongKey(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t, testKey(), "000000000000000a")

	otherKey := testKey()
	otherKey[0] ^= 0xff
	b := newReplica(t, otherKey, "000000000000000b")

	_, err := a.service.Mutate(ctx, testOwner, "todo", "1", "title", json.RawMessage(`1`))
	require.NoError(t, err)

	timestamps, err := a.store.AllTimestamps(ctx, testOwner)
	require.NoError(t, err)
	ops, err := a.store.Operations(ctx, testOwner, timestamps)
	require.NoError(t, err)

	assert.ErrorIs(t, b.service.Apply(ctx, ops[0]), crypto.ErrDecrypt)
}

func TestService_ApplyInvalidChange(t *testing.T) {
	ctx := context.Background()
	key := testKey()
	r := newReplica(t, key, "000000000000000b")

	ts := codec.MustTimestampToBytes(crdt.Timestamp{Millis: baseMillis, Node: crdt.NodeID{0xa}})
	ciphertext, err := crypto.Encrypt([]byte(`{"table":"bad table","id":"1","column":"c","value":1}`), key, crypto.OperationAAD(testOwner, ts))
	require.NoError(t, err)

	err = r.service.Apply(ctx, models.Operation{Owner: testOwner, Timestamp: ts, Ciphertext: ciphertext})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	r := newReplica(t, testKey(), "0000000000000001")

	for _, id := range []string{"1", "2"} {
		_, err := r.service.Mutate(ctx, testOwner, "todo", id, "done", json.RawMessage(`false`))
		require.NoError(t, err)
	}
	_, err := r.service.Mutate(ctx, testOwner, "note", "1", "text", json.RawMessage(`"x"`))
	require.NoError(t, err)

	rows, err := r.service.List(ctx, testOwner, "todo")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.JSONEq(t, `false`, string(rows["2"]["done"]))
}
