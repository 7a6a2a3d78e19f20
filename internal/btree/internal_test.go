package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/storage"
)

func newTestInternalPool(t *testing.T) bufferpool.Manager {
	t.Helper()
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "internal_test"}
	return bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)
}

func newTestInternalOn(t *testing.T, bp bufferpool.Manager, pageID uint32) *InternalNode {
	t.Helper()
	p, err := bp.GetPage(pageID)
	require.NoError(t, err)
	return InitInternal(p, pageID, InvalidPageID)
}

func TestInternal_PopulateNewRootAndLookup(t *testing.T) {
	bp := newTestInternalPool(t)
	node := newTestInternalOn(t, bp, 1)

	require.NoError(t, node.PopulateNewRoot(10, 5, 20))
	require.Equal(t, 2, node.Size())

	child, err := node.Lookup(0)
	require.NoError(t, err)
	require.Equal(t, uint32(10), child)

	child, err = node.Lookup(4)
	require.NoError(t, err)
	require.Equal(t, uint32(10), child)

	child, err = node.Lookup(5)
	require.NoError(t, err)
	require.Equal(t, uint32(20), child)

	child, err = node.Lookup(1000)
	require.NoError(t, err)
	require.Equal(t, uint32(20), child)
}

func TestInternal_InsertNodeAfterAndRemove(t *testing.T) {
	bp := newTestInternalPool(t)
	node := newTestInternalOn(t, bp, 1)
	require.NoError(t, node.PopulateNewRoot(10, 5, 20))

	require.NoError(t, node.InsertNodeAfter(20, 15, 30))
	require.Equal(t, 3, node.Size())

	child, err := node.Lookup(12)
	require.NoError(t, err)
	require.Equal(t, uint32(20), child)

	child, err = node.Lookup(18)
	require.NoError(t, err)
	require.Equal(t, uint32(30), child)

	require.NoError(t, node.Remove(1))
	require.Equal(t, 2, node.Size())
	child, err = node.Lookup(12)
	require.NoError(t, err)
	require.Equal(t, uint32(10), child)
}

func TestInternal_RemoveAndReturnOnlyChild(t *testing.T) {
	bp := newTestInternalPool(t)
	node := newTestInternalOn(t, bp, 1)
	require.NoError(t, node.rebuild([]internalEntry{{key: 0, child: 99}}))

	child, err := node.RemoveAndReturnOnlyChild()
	require.NoError(t, err)
	require.Equal(t, uint32(99), child)
}

func TestInternal_MoveHalfTo(t *testing.T) {
	bp := newTestInternalPool(t)
	node := newTestInternalOn(t, bp, 1)

	entries := []internalEntry{
		{key: 0, child: 100}, {key: 10, child: 200},
		{key: 20, child: 300}, {key: 30, child: 400},
	}
	require.NoError(t, node.rebuild(entries))
	// give each child page a parent to move.
	for _, e := range entries {
		p, err := bp.GetPage(e.child)
		require.NoError(t, err)
		InitLeaf(p, e.child, node.Page.PageID())
	}

	sibling := newTestInternalOn(t, bp, 2)

	medianKey, err := node.MoveHalfTo(sibling, bp)
	require.NoError(t, err)
	require.Equal(t, KeyType(20), medianKey)

	require.Equal(t, 2, node.Size())
	require.Equal(t, 2, sibling.Size())

	child, err := sibling.ValueAt(0)
	require.NoError(t, err)
	require.Equal(t, uint32(300), child)

	parentOfMoved, err := bp.GetPage(300)
	require.NoError(t, err)
	require.Equal(t, sibling.Page.PageID(), nodeParentID(parentOfMoved))
}

func TestInternal_RedistributeRotatesSeparator(t *testing.T) {
	bp := newTestInternalPool(t)
	left := newTestInternalOn(t, bp, 1)
	require.NoError(t, left.rebuild([]internalEntry{
		{key: 0, child: 10}, {key: 5, child: 20}, {key: 8, child: 30},
	}))
	right := newTestInternalOn(t, bp, 2)
	require.NoError(t, right.rebuild([]internalEntry{
		{key: 0, child: 40},
	}))
	for _, id := range []uint32{10, 20, 30, 40} {
		p, err := bp.GetPage(id)
		require.NoError(t, err)
		InitLeaf(p, id, left.Page.PageID())
	}

	// parent separator between left and right is 9.
	newSep, err := left.MoveLastToFrontOf(right, 9, bp)
	require.NoError(t, err)
	require.Equal(t, KeyType(8), newSep)

	require.Equal(t, 2, left.Size())
	require.Equal(t, 2, right.Size())

	k0, c0, err := right.EntryAt(0)
	require.NoError(t, err)
	require.Equal(t, KeyType(0), k0) // sentinel
	require.Equal(t, uint32(30), c0)

	k1, c1, err := right.EntryAt(1)
	require.NoError(t, err)
	require.Equal(t, KeyType(9), k1)
	require.Equal(t, uint32(40), c1)

	p30, err := bp.GetPage(30)
	require.NoError(t, err)
	require.Equal(t, right.Page.PageID(), nodeParentID(p30))
}

func TestInternal_CoalesceMergesWithSeparator(t *testing.T) {
	bp := newTestInternalPool(t)
	left := newTestInternalOn(t, bp, 1)
	require.NoError(t, left.rebuild([]internalEntry{
		{key: 0, child: 10}, {key: 5, child: 20},
	}))
	right := newTestInternalOn(t, bp, 2)
	require.NoError(t, right.rebuild([]internalEntry{
		{key: 0, child: 30},
	}))
	for _, id := range []uint32{10, 20, 30} {
		p, err := bp.GetPage(id)
		require.NoError(t, err)
		InitLeaf(p, id, left.Page.PageID())
	}

	require.NoError(t, right.MoveAllTo(left, 9, bp))
	require.Equal(t, 3, left.Size())

	k2, c2, err := left.EntryAt(2)
	require.NoError(t, err)
	require.Equal(t, KeyType(9), k2)
	require.Equal(t, uint32(30), c2)

	p30, err := bp.GetPage(30)
	require.NoError(t, err)
	require.Equal(t, left.Page.PageID(), nodeParentID(p30))
}
