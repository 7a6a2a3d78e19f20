package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	r := NewLRU(4)

	for _, id := range []int{0, 1, 2} {
		r.RecordAccess(id)
		r.SetEvictable(id, true)
	}
	require.Equal(t, 3, r.Size())

	// touch 0 again so it becomes MRU, leaving 1 as the LRU.
	r.RecordAccess(0)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, victim)
	require.Equal(t, 2, r.Size())
}

func TestLRU_PinnedFrameNotEvictable(t *testing.T) {
	r := NewLRU(2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)

	r.RecordAccess(1)
	r.SetEvictable(1, false) // pinned

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 0, victim)

	_, ok = r.Evict()
	require.False(t, ok)
}

func TestLRU_Remove(t *testing.T) {
	r := NewLRU(2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.Remove(0)
	require.Equal(t, 0, r.Size())

	_, ok := r.Evict()
	require.False(t, ok)
}
