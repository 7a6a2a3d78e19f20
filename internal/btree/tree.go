package btree

import (
	"errors"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/heap"
	"github.com/kvedu/pageengine/internal/storage"
)

var (
	ErrTreeClosed   = errors.New("btree: tree is closed")
	ErrEmptyTree    = errors.New("btree: tree is empty")
	ErrDuplicateKey = errors.New("btree: duplicate key")
)

// headerRecordName is the fixed record key under which a Tree stores its
// root page id on the header page. Each Tree owns its FileSet exclusively,
// so a single well-known name is enough; the multi-record Header format
// exists to leave room for several indexes sharing one page file later.
const headerRecordName = "root"

// Tree is a disk-backed B+Tree index: fixed-size leaf and internal pages
// linked through a buffer pool, with the current root persisted on page 0
// (see Header). Insertion accepts keys in any order; duplicate keys are
// rejected since this is a unique index.
type Tree struct {
	SM *storage.StorageManager
	FS storage.FileSet
	BP bufferpool.Manager

	Root uint32 // InvalidPageID when the tree is empty

	nextPageID uint32
	closed     atomic.Bool
}

// NewTree opens (or creates) the B+Tree stored in fs, restoring its root
// pointer from the header page if one already exists.
func NewTree(sm *storage.StorageManager, fs storage.FileSet, bp bufferpool.Manager) (*Tree, error) {
	t := &Tree{SM: sm, FS: fs, BP: bp}

	hp, err := OpenHeader(bp)
	if err != nil {
		return nil, err
	}
	if root, ok := hp.GetRootID(headerRecordName); ok {
		t.Root = root
	} else {
		t.Root = InvalidPageID
		if err := hp.InsertRecord(headerRecordName, InvalidPageID); err != nil {
			_ = bp.Unpin(hp.Page, false)
			return nil, err
		}
	}
	if err := bp.Unpin(hp.Page, true); err != nil {
		return nil, err
	}

	count, err := sm.CountPages(fs)
	if err != nil {
		return nil, err
	}
	next := uint32(1)
	if count > next {
		next = count
	}
	t.nextPageID = next

	return t, nil
}

func (t *Tree) ensureOpen() error {
	if t == nil || t.closed.Load() {
		return ErrTreeClosed
	}
	return nil
}

// Close flushes all dirty pages belonging to this tree's buffer pool.
func (t *Tree) Close() error {
	if t == nil {
		return nil
	}
	if !t.closed.CAS(false, true) {
		return nil
	}
	return t.BP.FlushAll()
}

func (t *Tree) allocPage() (uint32, *storage.Page, error) {
	pageID := t.nextPageID
	t.nextPageID++
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return 0, nil, err
	}
	p.Reset(pageID)
	return pageID, p, nil
}

func (t *Tree) setRoot(pageID uint32) error {
	hp, err := OpenHeader(t.BP)
	if err != nil {
		return err
	}
	if err := hp.UpdateRecord(headerRecordName, pageID); err != nil {
		_ = t.BP.Unpin(hp.Page, false)
		return err
	}
	t.Root = pageID
	return t.BP.Unpin(hp.Page, true)
}

// findLeafPage descends from the root to the leaf that would hold key
// (or, if leftmost is set, the leftmost leaf in the tree), pinning and
// returning it. Internal pages visited along the way are unpinned.
func (t *Tree) findLeafPage(key KeyType, leftmost bool) (*LeafNode, error) {
	if t.Root == InvalidPageID {
		return nil, ErrEmptyTree
	}
	pageID := t.Root
	for {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return nil, err
		}
		if nodeKind(p) == kindLeaf {
			return &LeafNode{Page: p}, nil
		}

		node := &InternalNode{Page: p}
		var childID uint32
		if leftmost {
			c, err := node.ValueAt(0)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return nil, err
			}
			childID = c
		} else {
			c, err := node.Lookup(key)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return nil, err
			}
			childID = c
		}
		if err := t.BP.Unpin(p, false); err != nil {
			return nil, err
		}
		pageID = childID
	}
}

// SearchEqual returns the TID stored for key, or nil if absent. The slice
// shape matches the Index interface; since this is a unique index, it
// holds at most one element.
func (t *Tree) SearchEqual(key KeyType) ([]heap.TID, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	leaf, err := t.findLeafPage(key, false)
	if err != nil {
		if errors.Is(err, ErrEmptyTree) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = t.BP.Unpin(leaf.Page, false) }()

	tid, ok, err := leaf.Lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []heap.TID{tid}, nil
}

// Insert adds key -> tid. Keys may arrive in any order; a key already
// present in the index is rejected with ErrDuplicateKey.
func (t *Tree) Insert(key KeyType, tid heap.TID) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}

	if t.Root == InvalidPageID {
		rootID, rootPage, err := t.allocPage()
		if err != nil {
			return err
		}
		leaf := InitLeaf(rootPage, rootID, InvalidPageID)
		if _, err := leaf.Insert(key, tid); err != nil {
			_ = t.BP.Unpin(rootPage, false)
			return err
		}
		if err := t.setRoot(rootID); err != nil {
			_ = t.BP.Unpin(rootPage, false)
			return err
		}
		return t.BP.Unpin(rootPage, true)
	}

	leaf, err := t.findLeafPage(key, false)
	if err != nil {
		return err
	}

	inserted, err := leaf.Insert(key, tid)
	if err != nil {
		_ = t.BP.Unpin(leaf.Page, false)
		return err
	}
	if !inserted {
		_ = t.BP.Unpin(leaf.Page, false)
		return ErrDuplicateKey
	}

	if leaf.Size() <= leaf.MaxSize() {
		return t.BP.Unpin(leaf.Page, true)
	}

	siblingID, siblingPage, err := t.allocPage()
	if err != nil {
		_ = t.BP.Unpin(leaf.Page, true)
		return err
	}
	sibling := InitLeaf(siblingPage, siblingID, leaf.ParentPageID())
	if err := leaf.MoveHalfTo(sibling); err != nil {
		_ = t.BP.Unpin(leaf.Page, true)
		_ = t.BP.Unpin(siblingPage, false)
		return err
	}
	sepKey, err := sibling.KeyAt(0)
	if err != nil {
		_ = t.BP.Unpin(leaf.Page, true)
		_ = t.BP.Unpin(siblingPage, true)
		return err
	}

	if err := t.insertIntoParent(leaf.Page, sepKey, siblingPage); err != nil {
		_ = t.BP.Unpin(leaf.Page, true)
		_ = t.BP.Unpin(siblingPage, true)
		return err
	}
	if err := t.BP.Unpin(leaf.Page, true); err != nil {
		return err
	}
	return t.BP.Unpin(siblingPage, true)
}

// insertIntoParent attaches right (freshly produced by splitting left) to
// left's parent under sepKey, recursively splitting the parent chain up to
// and including creating a new root if needed.
func (t *Tree) insertIntoParent(left *storage.Page, sepKey KeyType, right *storage.Page) error {
	leftID := left.PageID()
	parentID := nodeParentID(left)

	if parentID == InvalidPageID {
		rootID, rootPage, err := t.allocPage()
		if err != nil {
			return err
		}
		root := InitInternal(rootPage, rootID, InvalidPageID)
		if err := root.PopulateNewRoot(leftID, sepKey, right.PageID()); err != nil {
			_ = t.BP.Unpin(rootPage, false)
			return err
		}
		setParentPageIDRaw(left, rootID)
		setParentPageIDRaw(right, rootID)
		if err := t.setRoot(rootID); err != nil {
			_ = t.BP.Unpin(rootPage, false)
			return err
		}
		return t.BP.Unpin(rootPage, true)
	}

	parentPage, err := t.BP.GetPage(parentID)
	if err != nil {
		return err
	}
	parent := &InternalNode{Page: parentPage}
	setParentPageIDRaw(right, parentID)

	if parent.Size() < parent.MaxSize() {
		if err := parent.InsertNodeAfter(leftID, sepKey, right.PageID()); err != nil {
			_ = t.BP.Unpin(parentPage, false)
			return err
		}
		return t.BP.Unpin(parentPage, true)
	}

	if err := parent.InsertNodeAfter(leftID, sepKey, right.PageID()); err != nil {
		_ = t.BP.Unpin(parentPage, false)
		return err
	}

	newSiblingID, newSiblingPage, err := t.allocPage()
	if err != nil {
		_ = t.BP.Unpin(parentPage, true)
		return err
	}
	newSibling := InitInternal(newSiblingPage, newSiblingID, parent.ParentPageID())

	medianKey, err := parent.MoveHalfTo(newSibling, t.BP)
	if err != nil {
		_ = t.BP.Unpin(parentPage, true)
		_ = t.BP.Unpin(newSiblingPage, false)
		return err
	}

	if err := t.insertIntoParent(parentPage, medianKey, newSiblingPage); err != nil {
		_ = t.BP.Unpin(parentPage, true)
		_ = t.BP.Unpin(newSiblingPage, true)
		return err
	}
	if err := t.BP.Unpin(newSiblingPage, true); err != nil {
		return err
	}
	return t.BP.Unpin(parentPage, true)
}

// Remove deletes key from the index, if present. A missing key is not an
// error.
func (t *Tree) Remove(key KeyType) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	if t.Root == InvalidPageID {
		return nil
	}

	leaf, err := t.findLeafPage(key, false)
	if err != nil {
		return err
	}

	removed, err := leaf.RemoveAndDeleteRecord(key)
	if err != nil {
		_ = t.BP.Unpin(leaf.Page, false)
		return err
	}
	if !removed {
		return t.BP.Unpin(leaf.Page, false)
	}

	if leaf.Size() >= leaf.MinSize() {
		return t.BP.Unpin(leaf.Page, true)
	}
	return t.coalesceOrRedistribute(leaf.Page, true)
}

// coalesceOrRedistribute is called on an underflowing leaf or internal page
// (already pinned). It either borrows an entry from a sibling
// (redistribute) or merges with one (coalesce), recursing up the tree when
// a coalesce empties a parent entry below its own minimum.
func (t *Tree) coalesceOrRedistribute(page *storage.Page, dirty bool) error {
	pageID := page.PageID()
	parentID := nodeParentID(page)

	if parentID == InvalidPageID {
		err := t.adjustRoot(page)
		unpinErr := t.BP.Unpin(page, true)
		if err != nil {
			return err
		}
		return unpinErr
	}

	parentPage, err := t.BP.GetPage(parentID)
	if err != nil {
		_ = t.BP.Unpin(page, dirty)
		return err
	}
	parent := &InternalNode{Page: parentPage}

	idx, err := parent.ValueIndex(pageID)
	if err != nil {
		_ = t.BP.Unpin(page, dirty)
		_ = t.BP.Unpin(parentPage, false)
		return err
	}

	siblingIsLeft := idx > 0
	siblingIdx := idx - 1
	if !siblingIsLeft {
		siblingIdx = idx + 1
	}
	_, siblingID, err := parent.EntryAt(siblingIdx)
	if err != nil {
		_ = t.BP.Unpin(page, dirty)
		_ = t.BP.Unpin(parentPage, false)
		return err
	}

	siblingPage, err := t.BP.GetPage(siblingID)
	if err != nil {
		_ = t.BP.Unpin(page, dirty)
		_ = t.BP.Unpin(parentPage, false)
		return err
	}

	if nodeKind(page) == kindLeaf {
		return t.coalesceOrRedistributeLeaf(page, siblingPage, parent, idx, siblingIdx, siblingIsLeft)
	}
	return t.coalesceOrRedistributeInternal(page, siblingPage, parent, idx, siblingIdx, siblingIsLeft)
}

// deletePageAfterMerge unpins a page whose entries were just drained into a
// surviving sibling during coalesce, then drops its frame from the buffer
// pool entirely (the spec's DeletePage) rather than leaving it resident and
// dirty: its contents are no longer reachable from the tree, so there is
// nothing left to write back.
func (t *Tree) deletePageAfterMerge(page *storage.Page) {
	pageID := page.PageID()
	if err := t.BP.Unpin(page, false); err != nil {
		slog.Error("btree.deletePageAfterMerge: unpin failed", "pageID", pageID, "err", err)
		return
	}
	if err := t.BP.DeletePageFromBuffer(pageID); err != nil {
		slog.Error("btree.deletePageAfterMerge: delete from buffer failed", "pageID", pageID, "err", err)
	}
}

func (t *Tree) coalesceOrRedistributeLeaf(page, siblingPage *storage.Page, parent *InternalNode, idx, siblingIdx int, siblingIsLeft bool) error {
	n := &LeafNode{Page: page}
	s := &LeafNode{Page: siblingPage}

	if s.Size()+n.Size() > n.MaxSize() {
		if siblingIsLeft {
			if err := s.MoveLastToFrontOf(n); err != nil {
				_ = t.BP.Unpin(page, true)
				_ = t.BP.Unpin(siblingPage, true)
				_ = t.BP.Unpin(parent.Page, false)
				return err
			}
			newSep, err := n.KeyAt(0)
			if err != nil {
				return err
			}
			if err := parent.SetKeyAt(idx, newSep); err != nil {
				return err
			}
		} else {
			if err := s.MoveFirstToEndOf(n); err != nil {
				_ = t.BP.Unpin(page, true)
				_ = t.BP.Unpin(siblingPage, true)
				_ = t.BP.Unpin(parent.Page, false)
				return err
			}
			newSep, err := s.KeyAt(0)
			if err != nil {
				return err
			}
			if err := parent.SetKeyAt(siblingIdx, newSep); err != nil {
				return err
			}
		}
		_ = t.BP.Unpin(page, true)
		_ = t.BP.Unpin(siblingPage, true)
		return t.BP.Unpin(parent.Page, true)
	}

	var removeIdx int
	var survivor, mergedAway *storage.Page
	if siblingIsLeft {
		if err := n.MoveAllTo(s); err != nil {
			_ = t.BP.Unpin(page, true)
			_ = t.BP.Unpin(siblingPage, true)
			_ = t.BP.Unpin(parent.Page, false)
			return err
		}
		removeIdx = idx
		survivor, mergedAway = siblingPage, page
	} else {
		if err := s.MoveAllTo(n); err != nil {
			_ = t.BP.Unpin(page, true)
			_ = t.BP.Unpin(siblingPage, true)
			_ = t.BP.Unpin(parent.Page, false)
			return err
		}
		removeIdx = siblingIdx
		survivor, mergedAway = page, siblingPage
	}
	if err := parent.Remove(removeIdx); err != nil {
		_ = t.BP.Unpin(page, true)
		_ = t.BP.Unpin(siblingPage, true)
		_ = t.BP.Unpin(parent.Page, false)
		return err
	}
	_ = t.BP.Unpin(survivor, true)
	t.deletePageAfterMerge(mergedAway)

	if parent.Size() < parent.MinSize() {
		return t.coalesceOrRedistribute(parent.Page, true)
	}
	return t.BP.Unpin(parent.Page, true)
}

func (t *Tree) coalesceOrRedistributeInternal(page, siblingPage *storage.Page, parent *InternalNode, idx, siblingIdx int, siblingIsLeft bool) error {
	n := &InternalNode{Page: page}
	s := &InternalNode{Page: siblingPage}

	if s.Size()+n.Size() > n.MaxSize() {
		if siblingIsLeft {
			sepKey, err := parent.KeyAt(idx)
			if err != nil {
				return err
			}
			newSep, err := s.MoveLastToFrontOf(n, sepKey, t.BP)
			if err != nil {
				_ = t.BP.Unpin(page, true)
				_ = t.BP.Unpin(siblingPage, true)
				_ = t.BP.Unpin(parent.Page, false)
				return err
			}
			if err := parent.SetKeyAt(idx, newSep); err != nil {
				return err
			}
		} else {
			sepKey, err := parent.KeyAt(siblingIdx)
			if err != nil {
				return err
			}
			newSep, err := s.MoveFirstToEndOf(n, sepKey, t.BP)
			if err != nil {
				_ = t.BP.Unpin(page, true)
				_ = t.BP.Unpin(siblingPage, true)
				_ = t.BP.Unpin(parent.Page, false)
				return err
			}
			if err := parent.SetKeyAt(siblingIdx, newSep); err != nil {
				return err
			}
		}
		_ = t.BP.Unpin(page, true)
		_ = t.BP.Unpin(siblingPage, true)
		return t.BP.Unpin(parent.Page, true)
	}

	var removeIdx int
	var survivor, mergedAway *storage.Page
	if siblingIsLeft {
		sepKey, err := parent.KeyAt(idx)
		if err != nil {
			return err
		}
		if err := n.MoveAllTo(s, sepKey, t.BP); err != nil {
			_ = t.BP.Unpin(page, true)
			_ = t.BP.Unpin(siblingPage, true)
			_ = t.BP.Unpin(parent.Page, false)
			return err
		}
		removeIdx = idx
		survivor, mergedAway = siblingPage, page
	} else {
		sepKey, err := parent.KeyAt(siblingIdx)
		if err != nil {
			return err
		}
		if err := s.MoveAllTo(n, sepKey, t.BP); err != nil {
			_ = t.BP.Unpin(page, true)
			_ = t.BP.Unpin(siblingPage, true)
			_ = t.BP.Unpin(parent.Page, false)
			return err
		}
		removeIdx = siblingIdx
		survivor, mergedAway = page, siblingPage
	}
	if err := parent.Remove(removeIdx); err != nil {
		_ = t.BP.Unpin(page, true)
		_ = t.BP.Unpin(siblingPage, true)
		_ = t.BP.Unpin(parent.Page, false)
		return err
	}
	_ = t.BP.Unpin(survivor, true)
	t.deletePageAfterMerge(mergedAway)

	if parent.Size() < parent.MinSize() {
		return t.coalesceOrRedistribute(parent.Page, true)
	}
	return t.BP.Unpin(parent.Page, true)
}

// adjustRoot handles the root shrinking: an empty leaf root makes the tree
// empty, and an internal root reduced to a single child is replaced by
// that child.
func (t *Tree) adjustRoot(rootPage *storage.Page) error {
	if nodeKind(rootPage) == kindLeaf {
		leaf := &LeafNode{Page: rootPage}
		if leaf.Size() == 0 {
			return t.setRoot(InvalidPageID)
		}
		return nil
	}

	node := &InternalNode{Page: rootPage}
	if node.Size() == 1 {
		onlyChild, err := node.RemoveAndReturnOnlyChild()
		if err != nil {
			return err
		}
		if err := reparentChild(t.BP, onlyChild, InvalidPageID); err != nil {
			return err
		}
		return t.setRoot(onlyChild)
	}
	return nil
}

// RangeScan returns every TID whose key falls in [minKey, maxKey], walking
// the leaf linked list rather than re-descending the tree for each key.
func (t *Tree) RangeScan(minKey, maxKey KeyType) ([]heap.TID, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	if minKey > maxKey {
		return nil, nil
	}

	it, err := t.Begin(minKey)
	if err != nil {
		if errors.Is(err, ErrEmptyTree) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []heap.TID
	for !it.Done() {
		key, tid, err := it.Entry()
		if err != nil {
			return nil, err
		}
		if key > maxKey {
			break
		}
		out = append(out, tid)
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	slog.Debug("btree.RangeScan", "minKey", minKey, "maxKey", maxKey, "count", len(out))
	return out, nil
}

// Count returns the total number of entries in the tree, via a full
// left-to-right scan. Intended for stats/debug output, not hot paths.
func (t *Tree) Count() (int, error) {
	if err := t.ensureOpen(); err != nil {
		return 0, err
	}

	it, err := t.BeginFirst()
	if err != nil {
		if errors.Is(err, ErrEmptyTree) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = it.Close() }()

	n := 0
	for !it.Done() {
		if _, _, err := it.Entry(); err != nil {
			return 0, err
		}
		n++
		if err := it.Next(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

var _ Index = (*Tree)(nil)
