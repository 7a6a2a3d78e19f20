package btree

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKeysFile(t *testing.T, keys []int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.FormatInt(k, 10)
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(parts, " ")), 0o644))
	return path
}

func TestTree_InsertFromFileAndRemoveFromFile(t *testing.T) {
	tree, _, _ := newTestTree(t)

	path := writeKeysFile(t, []int64{5, 1, 4, 2, 3})
	require.NoError(t, tree.InsertFromFile(path))

	for _, k := range []int64{1, 2, 3, 4, 5} {
		tids, err := tree.SearchEqual(k)
		require.NoError(t, err)
		require.Len(t, tids, 1)
		require.Equal(t, SyntheticTID(k), tids[0])
	}

	removePath := writeKeysFile(t, []int64{1, 3, 5})
	require.NoError(t, tree.RemoveFromFile(removePath))

	for _, k := range []int64{1, 3, 5} {
		tids, err := tree.SearchEqual(k)
		require.NoError(t, err)
		require.Nil(t, tids)
	}
	for _, k := range []int64{2, 4} {
		tids, err := tree.SearchEqual(k)
		require.NoError(t, err)
		require.Len(t, tids, 1)
	}
}
