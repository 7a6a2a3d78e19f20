package btree

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/kvedu/pageengine/internal/heap"
)

// SyntheticTID derives a deterministic RID for a bare key, for callers that
// exercise the index directly without a backing row store.
func SyntheticTID(key KeyType) heap.TID {
	return heap.TID{PageID: uint32(key >> 16), Slot: uint16(key)}
}

// InsertFromFile reads whitespace-separated int64 keys from path and
// inserts each with a synthetic RID. A test convenience, not a product
// interface: mirrors the teacher's manual-exploration drivers for scripted
// scenario replay.
func (t *Tree) InsertFromFile(path string) error {
	return t.scanKeysFromFile(path, func(key KeyType) error {
		return t.Insert(key, SyntheticTID(key))
	})
}

// RemoveFromFile reads whitespace-separated int64 keys from path and
// removes each.
func (t *Tree) RemoveFromFile(path string) error {
	return t.scanKeysFromFile(path, t.Remove)
}

func (t *Tree) scanKeysFromFile(path string, apply func(KeyType) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		tok := strings.TrimSpace(sc.Text())
		if tok == "" {
			continue
		}
		key, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return err
		}
		if err := apply(key); err != nil {
			return err
		}
	}
	return sc.Err()
}
