package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderInvariant(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	h := New(func() time.Time { return clock })

	ids := []int{5, 3, 9, 1, 7, 2, 8, 4, 6, 0}
	for _, id := range ids {
		h.Add(id, int64(100-id), func() {})
	}

	h.checkInvariant(t)
}

func (h *Heap) checkInvariant(t *testing.T) {
	t.Helper()
	for i := 1; i < len(h.nodes); i++ {
		parent := (i - 1) / 2
		require.False(t, h.nodes[i].expires.Before(h.nodes[parent].expires))
	}
	for id, i := range h.ref {
		require.Equal(t, id, h.nodes[i].id)
	}
}

func TestUniqueness(t *testing.T) {
	clock := time.Unix(0, 0)
	h := New(func() time.Time { return clock })

	h.Add(1, 100, func() {})
	h.Add(1, 50, func() {})
	h.Add(1, 200, func() {})

	count := 0
	for _, n := range h.nodes {
		if n.id == 1 {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Len(t, h.nodes, 1)
}

func TestTickFiresExpiredInOrder(t *testing.T) {
	clock := time.Unix(0, 0)
	h := New(func() time.Time { return clock })

	var fired []int
	h.Add(1, 10, func() { fired = append(fired, 1) })
	h.Add(2, 20, func() { fired = append(fired, 2) })
	h.Add(3, 30, func() { fired = append(fired, 3) })

	clock = clock.Add(25 * time.Millisecond)
	h.Tick()

	require.Equal(t, []int{1, 2}, fired)
	require.Equal(t, 1, h.Len())
}

func TestGetNextTick(t *testing.T) {
	clock := time.Unix(0, 0)
	h := New(func() time.Time { return clock })

	require.Equal(t, int64(Infinite), h.GetNextTick())

	fired := false
	h.Add(1, 50, func() { fired = true })
	require.Equal(t, int64(50), h.GetNextTick())

	clock = clock.Add(60 * time.Millisecond)
	// id 1 has now already expired relative to clock; GetNextTick should
	// fire it via Tick before reporting Infinite.
	require.Equal(t, int64(Infinite), h.GetNextTick())
	require.True(t, fired)
}

func TestAdjustReorders(t *testing.T) {
	clock := time.Unix(0, 0)
	h := New(func() time.Time { return clock })

	h.Add(1, 10, func() {})
	h.Add(2, 20, func() {})
	h.Adjust(1, 30)
	h.checkInvariant(t)
	require.Equal(t, 2, h.nodes[0].id)
}

func TestDoWorkRunsAndRemoves(t *testing.T) {
	clock := time.Unix(0, 0)
	h := New(func() time.Time { return clock })

	ran := false
	h.Add(1, 1000, func() { ran = true })
	h.DoWork(1)
	require.True(t, ran)
	require.Equal(t, 0, h.Len())
	_, ok := h.ref[1]
	require.False(t, ok)
}

func TestCancelUnknownIsNoop(t *testing.T) {
	h := New(nil)
	h.Cancel(42) // must not panic
}
