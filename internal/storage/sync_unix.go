//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes a page write to stable storage. unix.Fdatasync skips the
// metadata sync os.File.Sync performs when only file contents (not size or
// timestamps) changed, which is the common case for in-place page writes.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
