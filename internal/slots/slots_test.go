package slots

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseConservation(t *testing.T) {
	const capacity = 4
	table := NewTable(capacity)
	require.Equal(t, capacity, table.Capacity())
	require.Equal(t, 0, table.InUse())

	var acquired []int
	for i := 0; i < capacity; i++ {
		idx, ok := table.Acquire()
		require.True(t, ok)
		acquired = append(acquired, idx)
	}
	require.Equal(t, capacity, table.InUse())

	_, ok := table.Acquire()
	require.False(t, ok, "acquiring beyond capacity must report saturation, not panic or reuse a slot")

	for _, idx := range acquired {
		table.Release(idx, func(int) {})
	}
	require.Equal(t, 0, table.InUse())

	// every released slot must be reachable again
	seen := map[int]bool{}
	for i := 0; i < capacity; i++ {
		idx, ok := table.Acquire()
		require.True(t, ok)
		require.False(t, seen[idx], "free list yielded the same index twice")
		seen[idx] = true
	}
}

func TestReleaseClosesClientFD(t *testing.T) {
	table := NewTable(2)
	idx, ok := table.Acquire()
	require.True(t, ok)

	table.Get(idx).ClientFD = 42
	var closed int
	table.Release(idx, func(fd int) { closed = fd })
	require.Equal(t, 42, closed)

	slot := table.Get(idx)
	require.Equal(t, StateFree, slot.State)
	require.Equal(t, -1, slot.ClientFD)
	require.Nil(t, slot.Pending)
}

func TestLaunchDiscardsPendingBuffer(t *testing.T) {
	table := NewTable(1)
	idx, _ := table.Acquire()
	table.Get(idx).Pending = []byte("partial")

	table.Launch(idx, 1234)

	slot := table.Get(idx)
	require.Equal(t, StateLaunched, slot.State)
	require.Equal(t, 1234, slot.ChildPID)
	require.Nil(t, slot.Pending)
}

func TestFindByChild(t *testing.T) {
	table := NewTable(3)
	a, _ := table.Acquire()
	b, _ := table.Acquire()
	table.Launch(a, 100)
	table.Launch(b, 200)

	idx, ok := table.FindByChild(200)
	require.True(t, ok)
	require.Equal(t, b, idx)

	_, ok = table.FindByChild(999)
	require.False(t, ok)
}
