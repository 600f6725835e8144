package syncstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/pkg/api"
)

func TestStore_GetInitial(t *testing.T) {
	s := NewStore()

	state := s.Get(api.OwnerID{1})
	assert.Equal(t, Initial, state.Kind)
	assert.Nil(t, state.Reason)
}

func TestStore_Transitions(t *testing.T) {
	s := NewStore()
	owner := api.OwnerID{1}
	other := api.OwnerID{2}

	var got []Kind
	cancel := s.Subscribe(func(o api.OwnerID, state State) {
		assert.Equal(t, owner, o)
		// Подписчик может читать Store
		assert.Equal(t, state.Kind, s.Get(o).Kind)
		got = append(got, state.Kind)
	})

	s.OnSyncState(owner, State{Kind: Syncing})
	reason := errors.New("network down")
	s.OnSyncState(owner, State{Kind: NotSynced, Reason: reason})

	state := s.Get(owner)
	assert.Equal(t, NotSynced, state.Kind)
	assert.ErrorIs(t, state.Reason, reason)
	assert.False(t, state.At.IsZero())
	assert.Equal(t, Initial, s.Get(other).Kind, "owners are independent")

	cancel()
	s.OnSyncState(owner, State{Kind: Synced})
	assert.Equal(t, []Kind{Syncing, NotSynced}, got)

	s.Forget(owner)
	assert.Equal(t, Initial, s.Get(owner).Kind)
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := api.OwnerID{byte(i % 5)}
			s.OnSyncState(owner, State{Kind: Syncing})
			_ = s.Get(owner)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.Equal(t, Syncing, s.Get(api.OwnerID{byte(i)}).Kind)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		want string
		kind Kind
	}{
		{kind: Initial, want: "initial"},
		{kind: Syncing, want: "syncing"},
		{kind: Synced, want: "synced"},
		{kind: NotSynced, want: "not_synced"},
		{kind: Kind(42), want: "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
