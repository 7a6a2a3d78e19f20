package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/heap"
	"github.com/kvedu/pageengine/internal/storage"
)

func newTestTree(t *testing.T) (*Tree, storage.LocalFileSet, *storage.StorageManager) {
	t.Helper()

	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	bp := bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)

	tree, err := NewTree(sm, fs, bp)
	require.NoError(t, err)
	return tree, fs, sm
}

func tidFor(key int64) heap.TID {
	return heap.TID{PageID: 1, Slot: uint16(key)}
}

func TestTree_EmptyLookupAndRangeScan(t *testing.T) {
	tree, _, _ := newTestTree(t)

	tids, err := tree.SearchEqual(1)
	require.NoError(t, err)
	require.Nil(t, tids)

	rows, err := tree.RangeScan(0, 100)
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestTree_InsertAndSearchEqual(t *testing.T) {
	tree, _, _ := newTestTree(t)

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, tree.Insert(i, tidFor(i)))
	}

	tids, err := tree.SearchEqual(7)
	require.NoError(t, err)
	require.Len(t, tids, 1)
	require.Equal(t, tidFor(7), tids[0])

	tids, err = tree.SearchEqual(999)
	require.NoError(t, err)
	require.Nil(t, tids)
}

func TestTree_Count(t *testing.T) {
	tree, _, _ := newTestTree(t)

	n, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	for i := int64(1); i <= 37; i++ {
		require.NoError(t, tree.Insert(i, tidFor(i)))
	}
	n, err = tree.Count()
	require.NoError(t, err)
	require.Equal(t, 37, n)

	require.NoError(t, tree.Remove(5))
	n, err = tree.Count()
	require.NoError(t, err)
	require.Equal(t, 36, n)
}

func TestTree_DuplicateKeyRejected(t *testing.T) {
	tree, _, _ := newTestTree(t)
	require.NoError(t, tree.Insert(1, tidFor(1)))
	err := tree.Insert(1, tidFor(2))
	require.ErrorIs(t, err, ErrDuplicateKey)
}

// TestTree_SplitsAcrossManyLeaves inserts enough keys to force repeated leaf
// splits (the root internal page never fills), then checks every key is still
// reachable both by point lookup and by a full range scan across the leaf
// chain.
func TestTree_SplitsAcrossManyLeaves(t *testing.T) {
	tree, _, _ := newTestTree(t)

	const n = 2000
	for i := int64(0); i < n; i++ {
		// insertion order is shuffled via a simple permutation so the tree
		// is built from non-sequential inserts, matching how a real
		// workload behaves.
		key := (i * 977) % n
		require.NoError(t, tree.Insert(key, tidFor(key)))
	}

	for i := int64(0); i < n; i++ {
		tids, err := tree.SearchEqual(i)
		require.NoError(t, err)
		require.Len(t, tids, 1)
		require.Equal(t, tidFor(i), tids[0])
	}

	rows, err := tree.RangeScan(0, n-1)
	require.NoError(t, err)
	require.Len(t, rows, n)
}

func TestTree_RangeScanBounds(t *testing.T) {
	tree, _, _ := newTestTree(t)
	for i := int64(0); i < 500; i++ {
		require.NoError(t, tree.Insert(i, tidFor(i)))
	}

	rows, err := tree.RangeScan(100, 149)
	require.NoError(t, err)
	require.Len(t, rows, 50)

	rows, err = tree.RangeScan(1000, 2000)
	require.NoError(t, err)
	require.Nil(t, rows)

	rows, err = tree.RangeScan(10, 5)
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestTree_RemoveMissingKeyIsNoop(t *testing.T) {
	tree, _, _ := newTestTree(t)
	require.NoError(t, tree.Insert(1, tidFor(1)))
	require.NoError(t, tree.Remove(42))

	tids, err := tree.SearchEqual(1)
	require.NoError(t, err)
	require.Len(t, tids, 1)
}

func TestTree_RemoveShrinksRootToEmpty(t *testing.T) {
	tree, _, _ := newTestTree(t)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, tree.Insert(i, tidFor(i)))
	}
	for i := int64(0); i < 5; i++ {
		require.NoError(t, tree.Remove(i))
	}
	require.Equal(t, InvalidPageID, tree.Root)

	tids, err := tree.SearchEqual(0)
	require.NoError(t, err)
	require.Nil(t, tids)
}

// TestTree_InsertRemoveInterleaved drives enough churn to exercise leaf
// splits, redistributes, and coalesces under a single internal root across
// the lifetime of one tree, checking the surviving key set after each
// deletion pass.
func TestTree_InsertRemoveInterleaved(t *testing.T) {
	tree, _, _ := newTestTree(t)

	const n = 3000
	present := make(map[int64]bool, n)
	for i := int64(0); i < n; i++ {
		key := (i * 613) % n
		require.NoError(t, tree.Insert(key, tidFor(key)))
		present[key] = true
	}

	// remove every third key
	for key := int64(0); key < n; key += 3 {
		require.NoError(t, tree.Remove(key))
		delete(present, key)
	}

	for key := int64(0); key < n; key++ {
		tids, err := tree.SearchEqual(key)
		require.NoError(t, err)
		if present[key] {
			require.Lenf(t, tids, 1, "key %d should still be present", key)
		} else {
			require.Emptyf(t, tids, "key %d should have been removed", key)
		}
	}

	rows, err := tree.RangeScan(0, n-1)
	require.NoError(t, err)
	require.Len(t, rows, len(present))
}

func TestTree_RootPersistsAcrossReopen(t *testing.T) {
	tree, fs, sm := newTestTree(t)
	for i := int64(0); i < 200; i++ {
		require.NoError(t, tree.Insert(i, tidFor(i)))
	}
	require.NoError(t, tree.Close())

	bp := bufferpool.NewPool(sm, fs, bufferpool.DefaultCapacity)
	reopened, err := NewTree(sm, fs, bp)
	require.NoError(t, err)
	require.Equal(t, tree.Root, reopened.Root)

	tids, err := reopened.SearchEqual(150)
	require.NoError(t, err)
	require.Len(t, tids, 1)
	require.Equal(t, tidFor(150), tids[0])
}
