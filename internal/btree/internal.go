package btree

import (
	"errors"
	"fmt"

	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/storage"
)

// ErrInternalNodeHasNoEntries is returned by Lookup on an internal page that
// was never populated (should not happen past PopulateNewRoot).
var ErrInternalNodeHasNoEntries = errors.New("btree: internal node has no entries")

// InternalNode is a B+Tree internal page. Entry 0 is a sentinel: it carries
// only the leftmost child pointer and no meaningful key. Entries 1..size-1
// carry (separatorKey, childPageID), where separatorKey is the smallest key
// reachable through childPageID: entry i's child covers [key_i, key_{i+1}).
type InternalNode struct {
	Page *storage.Page
}

type internalEntry struct {
	key   KeyType
	child uint32
}

// InitInternal reinitializes page as an empty internal node belonging to
// parentID. Callers populate it via PopulateNewRoot or InsertNodeAfter
// before it is used for lookups.
func InitInternal(page *storage.Page, pageID, parentID uint32) *InternalNode {
	page.Reset(pageID)
	setNodeKind(page, kindInternal)
	n := &InternalNode{Page: page}
	n.SetParentPageID(parentID)
	return n
}

func (n *InternalNode) ParentPageID() uint32      { return nodeParentID(n.Page) }
func (n *InternalNode) SetParentPageID(id uint32) { setParentPageIDRaw(n.Page, id) }
func (n *InternalNode) Size() int                 { return n.Page.NumSlots() }
func (n *InternalNode) MaxSize() int              { return maxInternalEntriesPerPage() }
func (n *InternalNode) MinSize() int              { return (n.MaxSize() + 1) / 2 }

func (n *InternalNode) entries() ([]internalEntry, error) {
	num := n.Page.NumSlots()
	out := make([]internalEntry, 0, num)
	for i := 0; i < num; i++ {
		data, err := n.Page.ReadTuple(i)
		if err != nil {
			return nil, err
		}
		k, c := DecodeInternalEntry(data)
		out = append(out, internalEntry{key: k, child: c})
	}
	return out, nil
}

func (n *InternalNode) rebuild(entries []internalEntry) error {
	parent := n.ParentPageID()
	pageID := n.Page.PageID()

	n.Page.Reset(pageID)
	setNodeKind(n.Page, kindInternal)
	n.SetParentPageID(parent)

	for _, e := range entries {
		if _, err := n.Page.InsertTuple(EncodeInternalEntry(e.key, e.child)); err != nil {
			return err
		}
	}
	return nil
}

// EntryAt decodes the i-th entry into (key, childPageID). Entry 0's key is
// meaningless (sentinel).
func (n *InternalNode) EntryAt(i int) (KeyType, uint32, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, 0, err
	}
	if i < 0 || i >= len(ents) {
		return 0, 0, fmt.Errorf("btree: internal entry index %d out of range", i)
	}
	return ents[i].key, ents[i].child, nil
}

func (n *InternalNode) KeyAt(i int) (KeyType, error) {
	k, _, err := n.EntryAt(i)
	return k, err
}

func (n *InternalNode) SetKeyAt(i int, key KeyType) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(ents) {
		return fmt.Errorf("btree: internal entry index %d out of range", i)
	}
	ents[i].key = key
	return n.rebuild(ents)
}

func (n *InternalNode) ValueAt(i int) (uint32, error) {
	_, c, err := n.EntryAt(i)
	return c, err
}

// ValueIndex returns the index of the entry whose child is v, or Size() if
// not found.
func (n *InternalNode) ValueIndex(v uint32) (int, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	for i, e := range ents {
		if e.child == v {
			return i, nil
		}
	}
	return len(ents), nil
}

// Lookup returns the child page id covering key.
func (n *InternalNode) Lookup(key KeyType) (uint32, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	if len(ents) == 0 {
		return 0, ErrInternalNodeHasNoEntries
	}
	childIdx := 0
	for i := 1; i < len(ents); i++ {
		if key < ents[i].key {
			break
		}
		childIdx = i
	}
	return ents[childIdx].child, nil
}

// PopulateNewRoot overwrites this page (assumed freshly initialized) with
// exactly two entries: the sentinel pointing at oldV, and newKey/newV.
func (n *InternalNode) PopulateNewRoot(oldV uint32, newKey KeyType, newV uint32) error {
	return n.rebuild([]internalEntry{
		{key: 0, child: oldV},
		{key: newKey, child: newV},
	})
}

// InsertNodeAfter inserts (newKey, newV) immediately after the entry whose
// child is oldV.
func (n *InternalNode) InsertNodeAfter(oldV uint32, newKey KeyType, newV uint32) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range ents {
		if e.child == oldV {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("btree: value %d not found in internal node %d", oldV, n.Page.PageID())
	}
	next := make([]internalEntry, 0, len(ents)+1)
	next = append(next, ents[:idx+1]...)
	next = append(next, internalEntry{key: newKey, child: newV})
	next = append(next, ents[idx+1:]...)
	return n.rebuild(next)
}

// Remove deletes the entry at index i, shifting the tail down.
func (n *InternalNode) Remove(i int) error {
	ents, err := n.entries()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(ents) {
		return fmt.Errorf("btree: internal entry index %d out of range", i)
	}
	next := make([]internalEntry, 0, len(ents)-1)
	next = append(next, ents[:i]...)
	next = append(next, ents[i+1:]...)
	return n.rebuild(next)
}

// RemoveAndReturnOnlyChild returns the sole remaining child, used by
// Tree.adjustRoot when the root internal node has been reduced to one
// entry and the tree should shrink by a level.
func (n *InternalNode) RemoveAndReturnOnlyChild() (uint32, error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	if len(ents) != 1 {
		return 0, fmt.Errorf("btree: RemoveAndReturnOnlyChild requires exactly one entry, got %d", len(ents))
	}
	return ents[0].child, nil
}

// MoveHalfTo splits n in half, giving the upper half to recipient. Since
// entry 0 is a sentinel with no key, the entry at the split point loses its
// key (becomes recipient's new sentinel) and that key is promoted to the
// caller, who inserts it as the separator above both nodes.
func (n *InternalNode) MoveHalfTo(recipient *InternalNode, bp bufferpool.Manager) (medianKey KeyType, err error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	mid := len(ents) / 2
	medianKey = ents[mid].key
	left := ents[:mid]

	right := make([]internalEntry, 0, len(ents)-mid)
	right = append(right, internalEntry{key: 0, child: ents[mid].child})
	right = append(right, ents[mid+1:]...)

	if err := recipient.rebuild(right); err != nil {
		return 0, err
	}
	for _, e := range right {
		if err := reparentChild(bp, e.child, recipient.Page.PageID()); err != nil {
			return 0, err
		}
	}
	if err := n.rebuild(left); err != nil {
		return 0, err
	}
	return medianKey, nil
}

// MoveAllTo merges n into recipient (n's left or right neighbor), used when
// coalescing an underflowing internal node. middleKey is the parent's
// current separator between the two nodes; it becomes the key for n's
// former sentinel child once it lands inside recipient as a real entry.
func (n *InternalNode) MoveAllTo(recipient *InternalNode, middleKey KeyType, bp bufferpool.Manager) error {
	these, err := n.entries()
	if err != nil {
		return err
	}
	if len(these) == 0 {
		return nil
	}
	recEnts, err := recipient.entries()
	if err != nil {
		return err
	}

	merged := append(recEnts, internalEntry{key: middleKey, child: these[0].child})
	merged = append(merged, these[1:]...)

	if err := recipient.rebuild(merged); err != nil {
		return err
	}
	for _, e := range these {
		if err := reparentChild(bp, e.child, recipient.Page.PageID()); err != nil {
			return err
		}
	}
	return nil
}

// MoveFirstToEndOf moves n's sentinel child (entry 0) to become recipient's
// new last entry, keyed by parentSepKey (the separator the parent held
// between recipient, to n's left, and n). n's new sentinel becomes its old
// second entry, whose key is promoted and returned as the new separator.
func (n *InternalNode) MoveFirstToEndOf(recipient *InternalNode, parentSepKey KeyType, bp bufferpool.Manager) (newParentSepKey KeyType, err error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	if len(ents) < 2 {
		return 0, fmt.Errorf("btree: MoveFirstToEndOf requires at least 2 entries")
	}
	sentinel, rest := ents[0], ents[1:]

	recEnts, err := recipient.entries()
	if err != nil {
		return 0, err
	}
	newRec := append(recEnts, internalEntry{key: parentSepKey, child: sentinel.child})
	if err := recipient.rebuild(newRec); err != nil {
		return 0, err
	}
	if err := reparentChild(bp, sentinel.child, recipient.Page.PageID()); err != nil {
		return 0, err
	}

	newSep := rest[0].key
	newN := make([]internalEntry, 0, len(rest))
	newN = append(newN, internalEntry{key: 0, child: rest[0].child})
	newN = append(newN, rest[1:]...)
	if err := n.rebuild(newN); err != nil {
		return 0, err
	}
	return newSep, nil
}

// MoveLastToFrontOf moves n's last entry to become recipient's new
// sentinel (entry 0). recipient's old sentinel becomes its new entry 1,
// keyed by parentSepKey (the separator the parent held between n, to
// recipient's left, and recipient). The moved entry's own key is returned
// as the new separator between n and recipient.
func (n *InternalNode) MoveLastToFrontOf(recipient *InternalNode, parentSepKey KeyType, bp bufferpool.Manager) (newParentSepKey KeyType, err error) {
	ents, err := n.entries()
	if err != nil {
		return 0, err
	}
	if len(ents) == 0 {
		return 0, fmt.Errorf("btree: MoveLastToFrontOf on empty internal node")
	}
	last := ents[len(ents)-1]
	rest := ents[:len(ents)-1]

	recEnts, err := recipient.entries()
	if err != nil {
		return 0, err
	}
	newRec := make([]internalEntry, 0, len(recEnts)+1)
	newRec = append(newRec, internalEntry{key: 0, child: last.child})
	if len(recEnts) > 0 {
		newRec = append(newRec, internalEntry{key: parentSepKey, child: recEnts[0].child})
		newRec = append(newRec, recEnts[1:]...)
	}
	if err := recipient.rebuild(newRec); err != nil {
		return 0, err
	}
	if err := reparentChild(bp, last.child, recipient.Page.PageID()); err != nil {
		return 0, err
	}

	if err := n.rebuild(rest); err != nil {
		return 0, err
	}
	return last.key, nil
}
