package crdt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNow int64 = 1_700_000_000_000

func testNode(b byte) NodeID {
	return NodeID{b, b, b, b, b, b, b, b}
}

func TestNewClock(t *testing.T) {
	node := testNode(1)
	clock := NewClock(node, ClockConfig{})

	require.NotNil(t, clock)
	assert.Equal(t, node, clock.Node())
	assert.True(t, clock.Last().Millis == 0 && clock.Last().Counter == 0)
	assert.Equal(t, DefaultMaxDrift, clock.cfg.MaxDrift, "zero MaxDrift should fall back to default")
}

func TestNewNodeID_Unique(t *testing.T) {
	ids := make(map[NodeID]bool)
	for i := 0; i < 100; i++ {
		id, err := NewNodeID()
		require.NoError(t, err)
		assert.False(t, ids[id], "NodeID should be unique")
		ids[id] = true
	}
}

func TestParseNodeID(t *testing.T) {
	node := testNode(0xab)

	parsed, err := ParseNodeID(node.String())
	require.NoError(t, err)
	assert.Equal(t, node, parsed)

	_, err = ParseNodeID("zz")
	assert.Error(t, err)

	_, err = ParseNodeID("abcd")
	assert.Error(t, err)
}

func TestClock_Next(t *testing.T) {
	tests := []struct {
		name        string
		last        Timestamp
		now         int64
		wantMillis  int64
		wantCounter uint16
	}{
		{
			name:        "wall clock advanced - counter resets",
			last:        Timestamp{Millis: testNow - 10, Counter: 7},
			now:         testNow,
			wantMillis:  testNow,
			wantCounter: 0,
		},
		{
			name:        "same millisecond - counter increments",
			last:        Timestamp{Millis: testNow, Counter: 7},
			now:         testNow,
			wantMillis:  testNow,
			wantCounter: 8,
		},
		{
			name:        "wall clock behind - logical time wins",
			last:        Timestamp{Millis: testNow + 1000, Counter: 2},
			now:         testNow,
			wantMillis:  testNow + 1000,
			wantCounter: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.last.Node = testNode(1)
			clock := RestoreClock(tt.last, DefaultClockConfig())

			ts, err := clock.Next(tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMillis, ts.Millis)
			assert.Equal(t, tt.wantCounter, ts.Counter)
			assert.Equal(t, testNode(1), ts.Node)
			assert.Equal(t, ts, clock.Last())
		})
	}
}

func TestClock_Next_Monotonicity(t *testing.T) {
	clock := NewClock(testNode(1), DefaultClockConfig())

	// Часы стоят, потом идут вперед, потом отстают - метки все равно растут
	nows := []int64{testNow, testNow, testNow, testNow + 1, testNow - 50, testNow - 50, testNow + 2}

	var previous Timestamp
	for i := 0; i < 100; i++ {
		now := nows[i%len(nows)]
		ts, err := clock.Next(now)
		require.NoError(t, err)
		assert.True(t, previous.Less(ts), "Next should always increase: %s then %s", previous, ts)
		previous = ts
	}
}

func TestClock_Next_CounterOverflow(t *testing.T) {
	clock := RestoreClock(Timestamp{Millis: testNow, Counter: MaxCounter, Node: testNode(1)}, DefaultClockConfig())

	_, err := clock.Next(testNow)
	require.Error(t, err)

	var overflow *CounterOverflowError
	assert.True(t, errors.As(err, &overflow))
	assert.True(t, errors.Is(err, ErrClock))
	assert.Equal(t, uint16(MaxCounter), clock.Last().Counter, "state must not change on error")

	// В следующей миллисекунде запись снова возможна
	ts, err := clock.Next(testNow + 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), ts.Counter)
}

func TestClock_Next_TimeOutOfRange(t *testing.T) {
	clock := NewClock(testNode(1), DefaultClockConfig())

	_, err := clock.Next(MaxMillis + 1)
	var outOfRange *TimeOutOfRangeError
	require.True(t, errors.As(err, &outOfRange))

	_, err = clock.Next(-1)
	require.True(t, errors.As(err, &outOfRange))
}

func TestClock_Next_DriftAfterReceive(t *testing.T) {
	// Локальная метка ушла вперед (приняли удаленную в пределах drift),
	// потом wall clock откатился назад больше чем на maxDrift
	cfg := ClockConfig{MaxDrift: time.Minute}
	clock := NewClock(testNode(1), cfg)

	_, err := clock.Receive(Timestamp{Millis: testNow + 30_000, Node: testNode(2)}, testNow)
	require.NoError(t, err)

	_, err = clock.Next(testNow - 60_000)
	var drift *DriftError
	require.True(t, errors.As(err, &drift))
}

func TestClock_Receive(t *testing.T) {
	local := testNode(1)
	remote := testNode(2)

	tests := []struct {
		name        string
		last        Timestamp
		remote      Timestamp
		now         int64
		wantMillis  int64
		wantCounter uint16
	}{
		{
			name:        "wall clock is the maximum",
			last:        Timestamp{Millis: testNow - 100, Counter: 3, Node: local},
			remote:      Timestamp{Millis: testNow - 50, Counter: 9, Node: remote},
			now:         testNow,
			wantMillis:  testNow,
			wantCounter: 0,
		},
		{
			name:        "remote is the maximum",
			last:        Timestamp{Millis: testNow - 100, Counter: 3, Node: local},
			remote:      Timestamp{Millis: testNow + 50, Counter: 9, Node: remote},
			now:         testNow,
			wantMillis:  testNow + 50,
			wantCounter: 10,
		},
		{
			name:        "local is the maximum",
			last:        Timestamp{Millis: testNow + 100, Counter: 3, Node: local},
			remote:      Timestamp{Millis: testNow + 50, Counter: 9, Node: remote},
			now:         testNow,
			wantMillis:  testNow + 100,
			wantCounter: 4,
		},
		{
			name:        "local and remote equal",
			last:        Timestamp{Millis: testNow + 100, Counter: 3, Node: local},
			remote:      Timestamp{Millis: testNow + 100, Counter: 9, Node: remote},
			now:         testNow,
			wantMillis:  testNow + 100,
			wantCounter: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := RestoreClock(tt.last, DefaultClockConfig())

			ts, err := clock.Receive(tt.remote, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMillis, ts.Millis)
			assert.Equal(t, tt.wantCounter, ts.Counter)
			assert.Equal(t, local, ts.Node, "received timestamp keeps local node")
			assert.True(t, tt.remote.Less(ts))
		})
	}
}

func TestClock_Receive_DriftRejected(t *testing.T) {
	clock := NewClock(testNode(1), ClockConfig{MaxDrift: 5 * time.Minute})
	before := clock.Last()

	remote := Timestamp{Millis: testNow + (6 * time.Minute).Milliseconds(), Node: testNode(2)}
	_, err := clock.Receive(remote, testNow)
	require.Error(t, err)

	var drift *DriftError
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, remote.Millis, drift.Millis)
	assert.Equal(t, before, clock.Last(), "rejected timestamp must not move the clock")

	// Метка в пределах drift принимается
	_, err = clock.Receive(Timestamp{Millis: testNow + (4 * time.Minute).Milliseconds(), Node: testNode(2)}, testNow)
	assert.NoError(t, err)
}

func TestClock_Receive_DuplicateNode(t *testing.T) {
	clock := NewClock(testNode(1), DefaultClockConfig())

	_, err := clock.Receive(Timestamp{Millis: testNow, Node: testNode(1)}, testNow)
	var dup *DuplicateNodeError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, testNode(1), dup.Node)
	assert.True(t, errors.Is(err, ErrClock))
}

func TestClock_Receive_CounterOverflow(t *testing.T) {
	clock := NewClock(testNode(1), DefaultClockConfig())

	_, err := clock.Receive(Timestamp{Millis: testNow + 10, Counter: MaxCounter, Node: testNode(2)}, testNow)
	var overflow *CounterOverflowError
	assert.True(t, errors.As(err, &overflow))
}

func TestClock_CheckDrift(t *testing.T) {
	clock := NewClock(testNode(1), ClockConfig{MaxDrift: time.Minute})

	assert.NoError(t, clock.CheckDrift(Timestamp{Millis: testNow + 60_000}, testNow))
	assert.Error(t, clock.CheckDrift(Timestamp{Millis: testNow + 60_001}, testNow))
	assert.Error(t, clock.CheckDrift(Timestamp{Millis: MaxMillis + 1}, testNow))
}

func TestClock_ConcurrentNext(t *testing.T) {
	clock := NewClock(testNode(1), DefaultClockConfig())

	const goroutines = 10
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[Timestamp]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ts, err := clock.Next(testNow)
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "all timestamps should be unique")
}
