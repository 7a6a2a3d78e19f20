package btree

import (
	"github.com/kvedu/pageengine/internal/alias/bx"
	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/storage"
)

// HeaderPageID is the fixed page id reserved for persisting each index's
// root pointer, one record per index name sharing the FileSet.
const HeaderPageID uint32 = 0

// Header wraps page 0 of an index's FileSet. It stores a sequence of
// (name, rootPageID) records as ordinary slotted tuples, reusing the page
// layer's InsertTuple/UpdateTuple/DeleteTuple rather than a bespoke byte
// format.
type Header struct {
	Page *storage.Page
}

// OpenHeader pins and returns the header page, allocating it (as an empty
// record set) on first use.
func OpenHeader(bp bufferpool.Manager) (*Header, error) {
	p, err := bp.GetPage(HeaderPageID)
	if err != nil {
		return nil, err
	}
	if p.IsUninitialized() {
		p.Reset(HeaderPageID)
	}
	return &Header{Page: p}, nil
}

func encodeHeaderRecord(name string, root uint32) []byte {
	buf := make([]byte, 2+len(name)+4)
	bx.PutU16(buf[0:2], uint16(len(name)))
	copy(buf[2:], name)
	bx.PutU32(buf[2+len(name):], root)
	return buf
}

func decodeHeaderRecord(b []byte) (name string, root uint32) {
	n := bx.U16(b[0:2])
	name = string(b[2 : 2+n])
	root = bx.U32(b[2+n:])
	return
}

func (h *Header) find(name string) (slot int, root uint32, ok bool) {
	for i := 0; i < h.Page.NumSlots(); i++ {
		data, err := h.Page.ReadTuple(i)
		if err != nil {
			continue
		}
		n, r := decodeHeaderRecord(data)
		if n == name {
			return i, r, true
		}
	}
	return -1, 0, false
}

// GetRootID returns the stored root page id for name, if any record exists.
func (h *Header) GetRootID(name string) (uint32, bool) {
	_, root, ok := h.find(name)
	return root, ok
}

// InsertRecord adds a new (name, root) record, or updates it in place if
// name is already present.
func (h *Header) InsertRecord(name string, root uint32) error {
	if slot, _, ok := h.find(name); ok {
		return h.Page.UpdateTuple(slot, encodeHeaderRecord(name, root))
	}
	_, err := h.Page.InsertTuple(encodeHeaderRecord(name, root))
	return err
}

// UpdateRecord rewrites name's root pointer, inserting it if absent.
func (h *Header) UpdateRecord(name string, root uint32) error {
	return h.InsertRecord(name, root)
}

// DeleteRecord removes name's record, if present.
func (h *Header) DeleteRecord(name string) error {
	slot, _, ok := h.find(name)
	if !ok {
		return nil
	}
	return h.Page.DeleteTuple(slot)
}
