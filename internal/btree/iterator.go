package btree

import "github.com/kvedu/pageengine/internal/heap"

// Iterator walks the leaf linked list in ascending key order, holding at
// most one leaf page pinned at a time. It never re-descends the tree.
type Iterator struct {
	t    *Tree
	leaf *LeafNode
	pos  int
	done bool
}

// Begin returns an iterator positioned at the first entry with key >= from.
// If the tree is empty, ErrEmptyTree is returned.
func (t *Tree) Begin(from KeyType) (*Iterator, error) {
	leaf, err := t.findLeafPage(from, false)
	if err != nil {
		return nil, err
	}
	idx, err := leaf.KeyIndex(from)
	if err != nil {
		_ = t.BP.Unpin(leaf.Page, false)
		return nil, err
	}
	it := &Iterator{t: t, leaf: leaf, pos: idx}
	if err := it.skipToNonEmpty(); err != nil {
		return nil, err
	}
	return it, nil
}

// BeginFirst returns an iterator positioned at the smallest key in the
// tree.
func (t *Tree) BeginFirst() (*Iterator, error) {
	leaf, err := t.findLeafPage(0, true)
	if err != nil {
		return nil, err
	}
	it := &Iterator{t: t, leaf: leaf, pos: 0}
	if err := it.skipToNonEmpty(); err != nil {
		return nil, err
	}
	return it, nil
}

// skipToNonEmpty advances across empty leaves (possible right after a
// coalesce leaves a stale next-pointer target with zero live entries)
// until it lands on an entry or runs out of leaves.
func (it *Iterator) skipToNonEmpty() error {
	for !it.done && it.pos >= it.leaf.Size() {
		next := it.leaf.NextPageID()
		if err := it.t.BP.Unpin(it.leaf.Page, false); err != nil {
			return err
		}
		if next == InvalidPageID {
			it.leaf = nil
			it.done = true
			return nil
		}
		p, err := it.t.BP.GetPage(next)
		if err != nil {
			return err
		}
		it.leaf = &LeafNode{Page: p}
		it.pos = 0
	}
	return nil
}

// Done reports whether the iterator has been exhausted.
func (it *Iterator) Done() bool {
	return it.done
}

// Entry returns the current (key, TID) pair.
func (it *Iterator) Entry() (KeyType, heap.TID, error) {
	if it.done {
		return 0, heap.TID{}, ErrEmptyTree
	}
	return it.leaf.EntryAt(it.pos)
}

// Next advances the iterator by one entry, crossing into the next leaf via
// its next_page_id pointer as needed.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.pos++
	return it.skipToNonEmpty()
}

// Close releases the currently pinned leaf, if any. Safe to call multiple
// times and on an already-exhausted iterator.
func (it *Iterator) Close() error {
	if it.leaf == nil {
		return nil
	}
	err := it.t.BP.Unpin(it.leaf.Page, false)
	it.leaf = nil
	it.done = true
	return err
}
