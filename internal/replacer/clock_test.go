package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClock_SecondChance(t *testing.T) {
	c := NewClock(3)

	for _, id := range []int{0, 1, 2} {
		c.RecordAccess(id)
		c.SetEvictable(id, true)
	}

	// Every frame already has its ref bit set, so re-touching frame 0 gives it
	// no extra protection: the first sweep clears all three bits and the hand
	// comes back around to frame 0 first.
	c.RecordAccess(0)

	victim, ok := c.Evict()
	require.True(t, ok)
	require.Equal(t, 0, victim)
}

func TestClock_NoEvictableFrame(t *testing.T) {
	c := NewClock(2)
	c.RecordAccess(0)
	c.SetEvictable(0, false)

	_, ok := c.Evict()
	require.False(t, ok)
}

func TestClock_RemoveClearsEvictable(t *testing.T) {
	c := NewClock(2)
	c.RecordAccess(0)
	c.SetEvictable(0, true)
	require.Equal(t, 1, c.Size())

	c.Remove(0)
	require.Equal(t, 0, c.Size())
}
