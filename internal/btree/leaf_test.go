package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/heap"
	"github.com/kvedu/pageengine/internal/storage"
)

func newTestLeafPool(t *testing.T) bufferpool.Manager {
	t.Helper()

	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "leaf_test"}
	return bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)
}

func newTestLeafOn(t *testing.T, bp bufferpool.Manager, pageID uint32) *LeafNode {
	t.Helper()
	p, err := bp.GetPage(pageID)
	require.NoError(t, err)
	return InitLeaf(p, pageID, InvalidPageID)
}

func newTestLeaf(t *testing.T) *LeafNode {
	t.Helper()
	return newTestLeafOn(t, newTestLeafPool(t), 1)
}

func TestLeaf_InsertKeepsAscendingOrder(t *testing.T) {
	leaf := newTestLeaf(t)

	order := []int64{5, 1, 4, 2, 3}
	for _, k := range order {
		ok, err := leaf.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Equal(t, 5, leaf.Size())
	for i := 0; i < leaf.Size(); i++ {
		k, _, err := leaf.EntryAt(i)
		require.NoError(t, err)
		require.Equal(t, KeyType(i+1), k)
	}
}

func TestLeaf_InsertDuplicateRejected(t *testing.T) {
	leaf := newTestLeaf(t)

	ok, err := leaf.Insert(10, heap.TID{PageID: 1, Slot: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = leaf.Insert(10, heap.TID{PageID: 1, Slot: 2})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, leaf.Size())
}

func TestLeaf_Lookup(t *testing.T) {
	leaf := newTestLeaf(t)
	for _, k := range []int64{1, 2, 3, 4, 5} {
		_, err := leaf.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}

	tid, ok, err := leaf.Lookup(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint16(3), tid.Slot)

	_, ok, err = leaf.Lookup(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLeaf_RemoveAndDeleteRecord(t *testing.T) {
	leaf := newTestLeaf(t)
	for _, k := range []int64{1, 2, 3} {
		_, err := leaf.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}

	removed, err := leaf.RemoveAndDeleteRecord(2)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 2, leaf.Size())

	_, ok, err := leaf.Lookup(2)
	require.NoError(t, err)
	require.False(t, ok)

	removed, err = leaf.RemoveAndDeleteRecord(2)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestLeaf_MoveHalfTo(t *testing.T) {
	bp := newTestLeafPool(t)
	leaf := newTestLeafOn(t, bp, 1)
	for _, k := range []int64{1, 2, 3, 4} {
		_, err := leaf.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}
	leaf.SetNextPageID(999)

	sibling := newTestLeafOn(t, bp, 2)

	require.NoError(t, leaf.MoveHalfTo(sibling))

	require.Equal(t, 2, leaf.Size())
	require.Equal(t, 2, sibling.Size())
	require.Equal(t, sibling.Page.PageID(), leaf.NextPageID())
	require.Equal(t, uint32(999), sibling.NextPageID())

	k0, _, err := sibling.EntryAt(0)
	require.NoError(t, err)
	require.Equal(t, KeyType(3), k0)
}

func TestLeaf_MoveAllTo(t *testing.T) {
	bp := newTestLeafPool(t)
	left := newTestLeafOn(t, bp, 1)
	for _, k := range []int64{1, 2} {
		_, err := left.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}
	right := newTestLeafOn(t, bp, 2)
	for _, k := range []int64{3, 4} {
		_, err := right.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}
	right.SetNextPageID(42)

	require.NoError(t, right.MoveAllTo(left))

	require.Equal(t, 4, left.Size())
	require.Equal(t, uint32(42), left.NextPageID())
	for i, want := range []int64{1, 2, 3, 4} {
		k, _, err := left.EntryAt(i)
		require.NoError(t, err)
		require.Equal(t, KeyType(want), k)
	}
}

func TestLeaf_Redistribute(t *testing.T) {
	bp := newTestLeafPool(t)
	left := newTestLeafOn(t, bp, 1)
	for _, k := range []int64{1, 2, 3} {
		_, err := left.Insert(k, heap.TID{PageID: 1, Slot: uint16(k)})
		require.NoError(t, err)
	}
	right := newTestLeafOn(t, bp, 2)
	_, err := right.Insert(10, heap.TID{PageID: 1, Slot: 10})
	require.NoError(t, err)

	require.NoError(t, left.MoveLastToFrontOf(right))
	require.Equal(t, 2, left.Size())
	require.Equal(t, 2, right.Size())
	k0, _, err := right.EntryAt(0)
	require.NoError(t, err)
	require.Equal(t, KeyType(3), k0)

	require.NoError(t, right.MoveFirstToEndOf(left))
	require.Equal(t, 3, left.Size())
	require.Equal(t, 1, right.Size())
	kLast, _, err := left.EntryAt(2)
	require.NoError(t, err)
	require.Equal(t, KeyType(3), kLast)
}
