package btree

import (
	"os"

	"github.com/kvedu/pageengine/internal/storage"
)

// DropIndex removes all of an index's page segments, including its header
// page (page 0, which holds the root pointer record). Works for
// LocalFileSet only.
func DropIndex(lfs storage.LocalFileSet) error {
	if err := os.MkdirAll(lfs.Dir, 0o755); err != nil {
		return err
	}
	return storage.RemoveAllSegments(lfs)
}
