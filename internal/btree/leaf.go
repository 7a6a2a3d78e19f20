package btree

import (
	"fmt"

	"github.com/kvedu/pageengine/internal/heap"
	"github.com/kvedu/pageengine/internal/storage"
)

// LeafNode is a B+Tree leaf page: a sorted run of (key, TID) entries plus a
// next_page_id pointer chaining every leaf into one ascending linked list,
// so range scans never have to re-descend the tree.
type LeafNode struct {
	Page *storage.Page
}

type leafEntry struct {
	key KeyType
	tid heap.TID
}

// InitLeaf reinitializes page as an empty leaf belonging to parentID.
func InitLeaf(page *storage.Page, pageID, parentID uint32) *LeafNode {
	page.Reset(pageID)
	setNodeKind(page, kindLeaf)
	n := &LeafNode{Page: page}
	n.SetParentPageID(parentID)
	n.SetNextPageID(InvalidPageID)
	return n
}

func (n *LeafNode) ParentPageID() uint32      { return nodeParentID(n.Page) }
func (n *LeafNode) SetParentPageID(id uint32) { setParentPageIDRaw(n.Page, id) }
func (n *LeafNode) NextPageID() uint32        { return nodeNextID(n.Page) }
func (n *LeafNode) SetNextPageID(id uint32)   { setNextPageIDRaw(n.Page, id) }
func (n *LeafNode) Size() int                 { return n.Page.NumSlots() }
func (n *LeafNode) MaxSize() int              { return maxLeafEntriesPerPage() }
func (n *LeafNode) MinSize() int              { return (n.MaxSize() + 1) / 2 }

func (n *LeafNode) entries() ([]leafEntry, error) {
	num := n.Page.NumSlots()
	out := make([]leafEntry, 0, num)
	for i := 0; i < num; i++ {
		data, err := n.Page.ReadTuple(i)
		if err != nil {
			return nil, err
		}
		k, tid := DecodeLeafEntry(data)
		out = append(out, leafEntry{key: k, tid: tid})
	}
	return out, nil
}

// rebuild discards the page's current tuples and re-encodes entries in
// order, preserving the node's parent/next metadata.
func (n *LeafNode) rebuild(entries []leafEntry) error {
	parent := n.ParentPageID()
	next := n.NextPageID()
	pageID := n.Page.PageID()

	n.Page.Reset(pageID)
	setNodeKind(n.Page, kindLeaf)
	n.SetParentPageID(parent)
	n.SetNextPageID(next)

	for _, e := range entries {
		if _, err := n.Page.InsertTuple(EncodeLeafEntry(e.key, e.tid)); err != nil {
			return err
		}
	}
	return nil
}

func lowerBoundLeaf(entries []leafEntry, key KeyType) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// KeyIndex returns the index of the first entry whose key is >= key.
func (n *LeafNode) KeyIndex(key KeyType) (int, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	return lowerBoundLeaf(ents, key), nil
}

func (n *LeafNode) KeyAt(i int) (KeyType, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(ents) {
		return 0, fmt.Errorf("btree: leaf key index %d out of range", i)
	}
	return ents[i].key, nil
}

func (n *LeafNode) ValueAt(i int) (heap.TID, error) {
	ents, err := n.entries()
	if err != nil {
		return heap.TID{}, err
	}
	if i < 0 || i >= len(ents) {
		return heap.TID{}, fmt.Errorf("btree: leaf value index %d out of range", i)
	}
	return ents[i].tid, nil
}

// EntryAt decodes (key, TID) at the given physical slot, for callers
// walking the page in on-disk order.
func (n *LeafNode) EntryAt(i int) (KeyType, heap.TID, error) {
	data, err := n.Page.ReadTuple(i)
	if err != nil {
		return 0, heap.TID{}, err
	}
	key, tid := DecodeLeafEntry(data)
	return key, tid, nil
}

// Lookup returns the TID stored for an exact key match.
func (n *LeafNode) Lookup(key KeyType) (heap.TID, bool, error) {
	ents, err := n.entries()
	if err != nil {
		return heap.TID{}, false, err
	}
	idx := lowerBoundLeaf(ents, key)
	if idx < len(ents) && ents[idx].key == key {
		return ents[idx].tid, true, nil
	}
	return heap.TID{}, false, nil
}

// Insert adds (key, tid) in sorted position. A duplicate key is a no-op;
// Tree.Insert surfaces that as a uniqueness violation since this index
// enforces unique keys.
func (n *LeafNode) Insert(key KeyType, tid heap.TID) (bool, error) {
	ents, err := n.entries()
	if err != nil {
		return false, err
	}
	idx := lowerBoundLeaf(ents, key)
	if idx < len(ents) && ents[idx].key == key {
		return false, nil
	}
	next := make([]leafEntry, 0, len(ents)+1)
	next = append(next, ents[:idx]...)
	next = append(next, leafEntry{key: key, tid: tid})
	next = append(next, ents[idx:]...)
	if err := n.rebuild(next); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAndDeleteRecord removes the entry matching key, if present.
func (n *LeafNode) RemoveAndDeleteRecord(key KeyType) (bool, error) {
	ents, err := n.entries()
	if err != nil {
		return false, err
	}
	idx := lowerBoundLeaf(ents, key)
	if idx >= len(ents) || ents[idx].key != key {
		return false, nil
	}
	next := make([]leafEntry, 0, len(ents)-1)
	next = append(next, ents[:idx]...)
	next = append(next, ents[idx+1:]...)
	if err := n.rebuild(next); err != nil {
		return false, err
	}
	return true, nil
}

// MoveHalfTo splits n in half, moving the upper half into recipient (an
// already-initialized empty leaf sharing n's parent) and relinking the leaf
// chain through it.
func (n *LeafNode) MoveHalfTo(recipient *LeafNode) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	mid := len(ents) / 2
	left, right := ents[:mid], ents[mid:]

	oldNext := n.NextPageID()
	if err := recipient.rebuild(right); err != nil {
		return err
	}
	recipient.SetNextPageID(oldNext)
	n.SetNextPageID(recipient.Page.PageID())
	return n.rebuild(left)
}

// MoveAllTo appends all of n's entries onto the end of recipient and
// inherits n's next_page_id, used when coalescing an underflowing leaf into
// its neighbor.
func (n *LeafNode) MoveAllTo(recipient *LeafNode) error {
	these, err := n.entries()
	if err != nil {
		return err
	}
	recEnts, err := recipient.entries()
	if err != nil {
		return err
	}
	merged := append(recEnts, these...)
	nextID := n.NextPageID()
	if err := recipient.rebuild(merged); err != nil {
		return err
	}
	recipient.SetNextPageID(nextID)
	return nil
}

// MoveFirstToEndOf moves n's first entry to the end of recipient, n's left
// sibling; used when n donates to a left neighbor during redistribution.
func (n *LeafNode) MoveFirstToEndOf(recipient *LeafNode) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	if len(ents) == 0 {
		return fmt.Errorf("btree: MoveFirstToEndOf on empty leaf")
	}
	first, rest := ents[0], ents[1:]

	recEnts, err := recipient.entries()
	if err != nil {
		return err
	}
	if err := recipient.rebuild(append(recEnts, first)); err != nil {
		return err
	}
	return n.rebuild(rest)
}

// MoveLastToFrontOf moves n's last entry to the front of recipient, n's
// right sibling; used when n donates to a right neighbor during
// redistribution.
func (n *LeafNode) MoveLastToFrontOf(recipient *LeafNode) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	if len(ents) == 0 {
		return fmt.Errorf("btree: MoveLastToFrontOf on empty leaf")
	}
	last := ents[len(ents)-1]
	rest := ents[:len(ents)-1]

	recEnts, err := recipient.entries()
	if err != nil {
		return err
	}
	merged := append([]leafEntry{last}, recEnts...)
	if err := recipient.rebuild(merged); err != nil {
		return err
	}
	return n.rebuild(rest)
}
