package boltdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

func hlc(millis int64, node byte) crdt.Timestamp {
	return crdt.Timestamp{Millis: millis, Node: crdt.NodeID{node}}
}

func applyChange(t *testing.T, store *Storage, at crdt.Timestamp, row, column, value string) bool {
	t.Helper()

	change := &models.Change{Table: "todo", Row: row, Column: column, Value: json.RawMessage(value)}
	operation := models.Operation{
		Owner:      ownerX,
		Timestamp:  codec.MustTimestampToBytes(at),
		Ciphertext: []byte("cipher-" + value),
	}
	applied, err := store.ApplyOperation(context.Background(), operation, change, at)
	require.NoError(t, err)
	return applied
}

func TestStorage_ApplyOperation_LWW(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	// Операции приходят не по порядку
	assert.True(t, applyChange(t, store, hlc(200, 1), "1", "title", `"second"`))
	assert.True(t, applyChange(t, store, hlc(100, 2), "1", "title", `"first"`))
	assert.True(t, applyChange(t, store, hlc(150, 1), "1", "done", `true`))

	row, err := store.GetRow(ctx, ownerX, "todo", "1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"title": []byte(`"second"`),
		"done":  []byte(`true`),
	}, row.Values())
	assert.Equal(t, hlc(200, 1), row["title"].Timestamp)

	// Проигравшая операция все равно хранится в логе
	all, err := store.AllTimestamps(ctx, ownerX)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStorage_ApplyOperation_Idempotent(t *testing.T) {
	store := createTestStorage(t)

	assert.True(t, applyChange(t, store, hlc(100, 1), "1", "title", `"a"`))
	assert.False(t, applyChange(t, store, hlc(100, 1), "1", "title", `"a"`), "replay must be a no-op")
}

func TestStorage_ApplyOperation_IntegrityRollsBack(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	at := hlc(100, 1)
	assert.True(t, applyChange(t, store, at, "1", "title", `"a"`))

	change := &models.Change{Table: "todo", Row: "1", Column: "title", Value: json.RawMessage(`"evil"`)}
	colliding := models.Operation{Owner: ownerX, Timestamp: codec.MustTimestampToBytes(at), Ciphertext: []byte("different")}
	_, err := store.ApplyOperation(ctx, colliding, change, at)
	assert.ErrorIs(t, err, storage.ErrIntegrity)

	row, err := store.GetRow(ctx, ownerX, "todo", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"a"`), row["title"].Value)
}

func TestStorage_GetRow_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetRow(context.Background(), ownerX, "todo", "missing")
	assert.ErrorIs(t, err, storage.ErrRowNotFound)
}

func TestStorage_ListRows(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	applyChange(t, store, hlc(100, 1), "1", "title", `"a"`)
	applyChange(t, store, hlc(101, 1), "2", "title", `"b"`)

	// Строка другой таблицы с похожим префиксом не попадает в выборку
	change := &models.Change{Table: "todos", Row: "3", Column: "title", Value: json.RawMessage(`"c"`)}
	at := hlc(102, 1)
	_, err := store.ApplyOperation(ctx, models.Operation{Owner: ownerX, Timestamp: codec.MustTimestampToBytes(at), Ciphertext: []byte("c")}, change, at)
	require.NoError(t, err)

	rows, err := store.ListRows(ctx, ownerX, "todo")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []byte(`"b"`), rows["2"]["title"].Value)

	rows, err = store.ListRows(ctx, ownerY, "todo")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStorage_Clock(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, found, err := store.LoadClock(ctx, ownerX)
	require.NoError(t, err)
	assert.False(t, found)

	last := crdt.Timestamp{Millis: 1_700_000_000_000, Counter: 3, Node: crdt.NodeID{1, 2}}
	require.NoError(t, store.SaveClock(ctx, ownerX, last))

	loaded, found, err := store.LoadClock(ctx, ownerX)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, last, loaded)

	assert.Error(t, store.SaveClock(ctx, ownerX, crdt.Timestamp{Millis: -1}))
}

func TestStorage_ClockKeepsLatest(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	newer := crdt.Timestamp{Millis: 1_700_000_000_500, Counter: 1, Node: crdt.NodeID{1}}
	older := crdt.Timestamp{Millis: 1_700_000_000_100, Counter: 7, Node: crdt.NodeID{9}}
	sameMillis := crdt.Timestamp{Millis: newer.Millis, Counter: 0, Node: crdt.NodeID{9}}

	// Сохранение запоздавшей метки после более новой не откатывает часы
	require.NoError(t, store.SaveClock(ctx, ownerX, newer))
	require.NoError(t, store.SaveClock(ctx, ownerX, older))
	require.NoError(t, store.SaveClock(ctx, ownerX, sameMillis))

	loaded, found, err := store.LoadClock(ctx, ownerX)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, newer, loaded)

	later := crdt.Timestamp{Millis: newer.Millis, Counter: 2, Node: crdt.NodeID{0}}
	require.NoError(t, store.SaveClock(ctx, ownerX, later))
	loaded, _, err = store.LoadClock(ctx, ownerX)
	require.NoError(t, err)
	assert.Equal(t, later, loaded)
}
