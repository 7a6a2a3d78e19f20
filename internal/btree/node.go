package btree

import (
	"github.com/kvedu/pageengine/internal/alias/bx"
	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/storage"
)

// InvalidPageID is this engine's concrete stand-in for a signed-32-bit
// store's -1 sentinel: no 32-bit unsigned page id can legitimately equal it.
const InvalidPageID uint32 = 0xFFFFFFFF

// Leaf and internal pages reserve the tail of storage.HeaderSize (bytes
// 12..23, right after the generic slotted-page header) for B+Tree node
// metadata: the parent page id, the leaf linked-list pointer, and a tag
// telling the two node kinds apart.
const (
	nodeOffParentID = 12
	nodeOffNextID   = 16
	nodeOffKind     = 20
)

type nodeKindTag uint8

const (
	kindLeaf     nodeKindTag = 1
	kindInternal nodeKindTag = 2
)

func nodeKind(p *storage.Page) nodeKindTag {
	return nodeKindTag(p.Buf[nodeOffKind])
}

func setNodeKind(p *storage.Page, kind nodeKindTag) {
	p.Buf[nodeOffKind] = byte(kind)
}

func nodeParentID(p *storage.Page) uint32 {
	return bx.U32At(p.Buf, nodeOffParentID)
}

func setParentPageIDRaw(p *storage.Page, id uint32) {
	bx.PutU32At(p.Buf, nodeOffParentID, id)
}

func nodeNextID(p *storage.Page) uint32 {
	return bx.U32At(p.Buf, nodeOffNextID)
}

func setNextPageIDRaw(p *storage.Page, id uint32) {
	bx.PutU32At(p.Buf, nodeOffNextID, id)
}

// reparentChild updates a child page's stored parent pointer, used whenever
// Move*/PopulateNewRoot/InsertIntoParent hands a subtree to a new parent.
func reparentChild(bp bufferpool.Manager, childID, parentID uint32) error {
	p, err := bp.GetPage(childID)
	if err != nil {
		return err
	}
	setParentPageIDRaw(p, parentID)
	return bp.Unpin(p, true)
}
