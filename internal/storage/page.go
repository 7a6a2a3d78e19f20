package storage

import (
	"fmt"

	"github.com/kvedu/pageengine/internal/alias/bx"
)

// Page is a fixed-size slotted page, the unit of I/O and buffering
// throughout the engine.
//
//	+------------------+ 0
//	| flags(2) pageID(4)|
//	| pd_lower(2)        |
//	| pd_upper(2)        |
//	| pd_special(2)      |
//	| LinePointers[]     | <-- grows down from HeaderSize toward pd_lower
//	+------------------+
//	|   free space     |
//	+------------------+ <-- pd_upper
//	|  Tuple data      |  <-- grows up from PageSize toward pd_upper
//	+------------------+ PageSize
type Page struct {
	Buf []byte
}

const (
	offFlags   = 0
	offPageID  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10
)

// NewPage wraps buf (which must be exactly PageSize bytes) as a freshly
// initialized page tagged with pageID.
func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("storage: page buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

func (p *Page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	bx.PutU16(p.Buf[offFlags:], 0)
	bx.PutU32(p.Buf[offPageID:], pageID)
	bx.PutU16(p.Buf[offLower:], HeaderSize)
	bx.PutU16(p.Buf[offUpper:], PageSize)
	bx.PutU16(p.Buf[offSpecial:], PageSize)
}

// Reset reinitializes the page in place as an empty page tagged with
// pageID, discarding any tuples it held. Callers that layer their own
// metadata into reserved header bytes (see btree.node.go) must restore it
// after calling Reset.
func (p *Page) Reset(pageID uint32) {
	p.init(pageID)
}

// IsUninitialized reports whether the page has never had init() applied,
// i.e. it is a zero-filled page freshly read past end-of-file.
func (p *Page) IsUninitialized() bool {
	return bx.U16(p.Buf[offLower:]) == 0 && bx.U16(p.Buf[offUpper:]) == 0
}

func (p *Page) PageID() uint32 {
	return bx.U32(p.Buf[offPageID:])
}

func (p *Page) SetPageID(id uint32) {
	bx.PutU32(p.Buf[offPageID:], id)
}

func (p *Page) lower() uint16 {
	return bx.U16(p.Buf[offLower:])
}

func (p *Page) setLower(v uint16) {
	bx.PutU16(p.Buf[offLower:], v)
}

func (p *Page) upper() uint16 {
	return bx.U16(p.Buf[offUpper:])
}

func (p *Page) setUpper(v uint16) {
	bx.PutU16(p.Buf[offUpper:], v)
}

// NumSlots returns the number of line-pointer slots allocated on the page,
// including deleted/moved ones.
func (p *Page) NumSlots() int {
	return (int(p.lower()) - HeaderSize) / SlotSize
}

func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(i int) (offset, length uint16, flags uint16) {
	o := p.slotOff(i)
	return bx.U16(p.Buf[o:]), bx.U16(p.Buf[o+2:]), bx.U16(p.Buf[o+4:])
}

func (p *Page) putSlot(i int, offset, length, flags uint16) {
	o := p.slotOff(i)
	bx.PutU16(p.Buf[o:], offset)
	bx.PutU16(p.Buf[o+2:], length)
	bx.PutU16(p.Buf[o+4:], flags)
}

func (p *Page) appendSlot(offset, length, flags uint16) int {
	i := p.NumSlots()
	p.putSlot(i, offset, length, flags)
	p.setLower(p.lower() + SlotSize)
	return i
}

// FreeSpace returns the number of contiguous bytes available for a new
// tuple plus its slot entry.
func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower())
}

// InsertTuple appends tup to the page's free space and allocates a new
// slot pointing at it, returning the slot index.
func (p *Page) InsertTuple(tup []byte) (int, error) {
	need := len(tup) + SlotSize
	if p.FreeSpace() < need {
		return -1, ErrPageFull
	}
	u := p.upper() - uint16(len(tup))
	copy(p.Buf[u:], tup)
	p.setUpper(u)
	return p.appendSlot(u, uint16(len(tup)), slotFlagNone), nil
}

// ReadTuple returns the bytes stored at slot, or ErrBadSlot if the slot is
// out of range or has been deleted. A slot relocated by UpdateTuple
// transparently resolves to its new location.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.NumSlots() {
		return nil, ErrBadSlot
	}
	offset, length, flags := p.getSlot(slot)
	switch flags {
	case slotFlagDeleted:
		return nil, ErrBadSlot
	case slotFlagMoved:
		return p.ReadTuple(int(offset))
	default:
		if offset == 0 && length == 0 {
			return nil, ErrBadSlot
		}
		return p.Buf[offset : offset+length], nil
	}
}

// UpdateTuple overwrites the tuple at slot. If the new value fits in the
// existing allocation it is updated in place; otherwise a fresh slot is
// appended holding the new value and the original slot is turned into a
// redirect to it, so callers holding the original slot index keep working.
func (p *Page) UpdateTuple(slot int, newTuple []byte) error {
	if slot < 0 || slot >= p.NumSlots() {
		return ErrBadSlot
	}
	offset, length, flags := p.getSlot(slot)
	if flags == slotFlagDeleted {
		return ErrBadSlot
	}
	if flags == slotFlagMoved {
		return p.UpdateTuple(int(offset), newTuple)
	}
	if len(newTuple) <= int(length) {
		copy(p.Buf[offset:], newTuple)
		p.putSlot(slot, offset, uint16(len(newTuple)), slotFlagNone)
		return nil
	}
	newSlot, err := p.InsertTuple(newTuple)
	if err != nil {
		return err
	}
	p.putSlot(slot, uint16(newSlot), 0, slotFlagMoved)
	return nil
}

// DeleteTuple tombstones the slot; the backing bytes are reclaimed only by
// a future compaction pass (not implemented: pages are small and rewritten
// wholesale by callers that need reclamation).
func (p *Page) DeleteTuple(slot int) error {
	if slot < 0 || slot >= p.NumSlots() {
		return ErrBadSlot
	}
	p.putSlot(slot, 0, 0, slotFlagDeleted)
	return nil
}

// DebugString renders slot occupancy for troubleshooting.
func (p *Page) DebugString() string {
	s := fmt.Sprintf("Page{id=%d slots=%d lower=%d upper=%d}[", p.PageID(), p.NumSlots(), p.lower(), p.upper())
	for i := 0; i < p.NumSlots(); i++ {
		offset, length, flags := p.getSlot(i)
		s += fmt.Sprintf(" #%d(off=%d len=%d flags=%d)", i, offset, length, flags)
	}
	return s + " ]"
}
