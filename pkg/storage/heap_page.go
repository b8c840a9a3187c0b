package storage

import (
	"encoding/binary"
	"errors"
)

const (
	// HeapMetaSize is the fixed heap-page metadata size, immediately after
	// the page's fixed header.
	HeapMetaSize = 8

	// SlotEntrySize is the size of one slot directory entry: a 2-byte
	// offset and a 2-byte length.
	SlotEntrySize = 4

	// deletedOffset is the sentinel offset value marking a deleted slot.
	// No live slot can ever have this offset: every offset lies within
	// Page.Body(), which is PageSize - PageHeaderSize bytes long.
	deletedOffset = 0xFFFF

	// HeapPageBodySize is the usable space for the slot directory and
	// value body combined.
	HeapPageBodySize = PageSize - PageHeaderSize - HeapMetaSize
)

// ErrValueTooLarge is returned by HeapFile.AddVal when a value does not fit
// even on a freshly allocated, empty page.
var ErrValueTooLarge = errors.New("storage: value does not fit on page")

// ErrSlotNotFound is returned by slot operations given an id that is out
// of range or currently deleted.
var ErrSlotNotFound = errors.New("storage: slot not found")

// heapSlot is the in-memory mirror of one 4-byte slot directory entry.
type heapSlot struct {
	offset uint16
	length uint16
}

func (s heapSlot) deleted() bool { return s.offset == deletedOffset }

// HeapPage stacks a slotted-value layout on top of a raw Page. The slot
// directory grows from the heap metadata toward the tail; the value body
// grows from the tail toward the header. Byte layout within Page.Body():
//
//	[0:2)   slot count
//	[2:4)   free space boundary (offset, within body, where the value body currently starts)
//	[4:6)   fragmented space (bytes reclaimable by compaction)
//	[6:8)   reserved
//	[8:...) slot directory, 4 bytes per entry
//	...tail value body, packed from the end of Body() backward
type HeapPage struct {
	page  *Page
	slots []heapSlot

	freeStart uint16 // body offset where the value area begins (shrinks on insert)
	fragment  uint16
}

// InitHeapPage formats page as an empty heap page: zero slot directory,
// free-space pointer at the end of the body.
func InitHeapPage(page *Page) *HeapPage {
	hp := &HeapPage{
		page:      page,
		slots:     nil,
		freeStart: uint16(len(page.Body())),
		fragment:  0,
	}
	hp.flushMeta()
	return hp
}

// LoadHeapPage reconstructs a HeapPage from a page already on disk or in a
// buffer frame.
func LoadHeapPage(page *Page) *HeapPage {
	body := page.Body()
	hp := &HeapPage{page: page}

	slotCount := binary.LittleEndian.Uint16(body[0:2])
	hp.freeStart = binary.LittleEndian.Uint16(body[2:4])
	hp.fragment = binary.LittleEndian.Uint16(body[4:6])

	hp.slots = make([]heapSlot, slotCount)
	for i := uint16(0); i < slotCount; i++ {
		off := HeapMetaSize + int(i)*SlotEntrySize
		hp.slots[i] = heapSlot{
			offset: binary.LittleEndian.Uint16(body[off : off+2]),
			length: binary.LittleEndian.Uint16(body[off+2 : off+4]),
		}
	}
	return hp
}

// GetHeaderSize reports the bytes consumed by the fixed page header plus
// heap metadata, before the slot directory begins.
func (hp *HeapPage) GetHeaderSize() int {
	return PageHeaderSize + HeapMetaSize
}

// dirStart is the body offset where the slot directory begins.
func (hp *HeapPage) dirStart() uint16 { return HeapMetaSize }

// dirEnd is the body offset just past the current slot directory.
func (hp *HeapPage) dirEnd() uint16 {
	return HeapMetaSize + uint16(len(hp.slots))*SlotEntrySize
}

// GetFreeSpace returns the space immediately usable for a new value body
// plus the space reclaimable via compaction. Deleted slot directory entries
// are not counted; AddValue reuses them without needing new directory space.
// Callers use it to decide whether AddValue can succeed.
func (hp *HeapPage) GetFreeSpace() int {
	contiguous := int(hp.freeStart) - int(hp.dirEnd())
	if contiguous < 0 {
		contiguous = 0
	}
	return contiguous + int(hp.fragment)
}

func (hp *HeapPage) lowestFreeSlot() (uint16, bool) {
	for i, s := range hp.slots {
		if s.deleted() {
			return uint16(i), true
		}
	}
	return 0, false
}

// AddValue stores bytes in the lowest available slot id, compacting first
// if needed to make room. It returns false if the value cannot fit even
// after compaction.
func (hp *HeapPage) AddValue(value []byte) (uint16, bool) {
	slotID, reuse := hp.lowestFreeSlot()
	needsNewEntry := !reuse

	needed := uint16(len(value))
	entryCost := uint16(0)
	if needsNewEntry {
		entryCost = SlotEntrySize
	}

	if uint16(hp.GetFreeSpace()) < needed+entryCost {
		return 0, false
	}

	if contiguous := int(hp.freeStart) - int(hp.dirEnd()); contiguous < int(needed)+int(entryCost) {
		hp.compact()
	}
	if contiguous := int(hp.freeStart) - int(hp.dirEnd()); contiguous < int(needed)+int(entryCost) {
		return 0, false
	}

	offset := hp.freeStart - needed
	hp.freeStart = offset
	copy(hp.page.Body()[offset:offset+needed], value)

	if needsNewEntry {
		slotID = uint16(len(hp.slots))
		hp.slots = append(hp.slots, heapSlot{offset: offset, length: needed})
	} else {
		hp.slots[slotID] = heapSlot{offset: offset, length: needed}
	}

	hp.flushSlot(slotID)
	hp.flushMeta()
	return slotID, true
}

// GetValue returns a copy of the bytes stored at slot, or false if the
// slot is unallocated or deleted.
func (hp *HeapPage) GetValue(slot uint16) ([]byte, bool) {
	if int(slot) >= len(hp.slots) || hp.slots[slot].deleted() {
		return nil, false
	}
	s := hp.slots[slot]
	out := make([]byte, s.length)
	copy(out, hp.page.Body()[s.offset:s.offset+s.length])
	return out, true
}

// DeleteValue vacates slot's directory entry and frees its body range for
// reuse. The slot id remains reusable by a later AddValue.
func (hp *HeapPage) DeleteValue(slot uint16) bool {
	if int(slot) >= len(hp.slots) || hp.slots[slot].deleted() {
		return false
	}
	hp.fragment += hp.slots[slot].length
	hp.slots[slot] = heapSlot{offset: deletedOffset, length: 0}
	hp.flushSlot(slot)
	hp.flushMeta()
	return true
}

// UpdateValue replaces slot's bytes in place if they fit (after compaction
// if necessary). On success the slot id and every other slot's bytes are
// unchanged. On failure the page is left unchanged and false is returned;
// the caller is expected to relocate the value to a different page.
func (hp *HeapPage) UpdateValue(slot uint16, value []byte) bool {
	if int(slot) >= len(hp.slots) || hp.slots[slot].deleted() {
		return false
	}
	old := hp.slots[slot]
	needed := uint16(len(value))

	if needed <= old.length {
		copy(hp.page.Body()[old.offset:old.offset+needed], value)
		hp.fragment += old.length - needed
		hp.slots[slot] = heapSlot{offset: old.offset, length: needed}
		hp.flushSlot(slot)
		hp.flushMeta()
		return true
	}

	freedByThisSlot := old.length
	available := hp.GetFreeSpace() + int(freedByThisSlot)
	if available < int(needed) {
		return false
	}

	hp.fragment += old.length
	hp.slots[slot] = heapSlot{offset: deletedOffset, length: 0}

	if int(hp.freeStart)-int(hp.dirEnd()) < int(needed) {
		hp.compact()
	}
	if int(hp.freeStart)-int(hp.dirEnd()) < int(needed) {
		// Shouldn't happen given the GetFreeSpace check above, but leave
		// the page consistent rather than half-updated.
		hp.slots[slot] = old
		hp.fragment -= old.length
		hp.flushSlot(slot)
		hp.flushMeta()
		return false
	}

	offset := hp.freeStart - needed
	hp.freeStart = offset
	copy(hp.page.Body()[offset:offset+needed], value)
	hp.slots[slot] = heapSlot{offset: offset, length: needed}

	hp.flushSlot(slot)
	hp.flushMeta()
	return true
}

// compact removes fragmentation by repacking all live values against the
// tail of the body, in slot order, without changing any slot id.
func (hp *HeapPage) compact() {
	if hp.fragment == 0 {
		return
	}
	body := hp.page.Body()
	tmp := make([]byte, len(body))

	type liveEntry struct {
		idx    int
		length uint16
	}
	var live []liveEntry
	for i, s := range hp.slots {
		if !s.deleted() {
			live = append(live, liveEntry{idx: i, length: s.length})
		}
	}

	end := uint16(len(body))
	for _, e := range live {
		s := hp.slots[e.idx]
		newOffset := end - s.length
		copy(tmp[newOffset:end], body[s.offset:s.offset+s.length])
		hp.slots[e.idx] = heapSlot{offset: newOffset, length: s.length}
		end = newOffset
	}
	copy(body, tmp)

	hp.freeStart = end
	hp.fragment = 0

	for i := range hp.slots {
		hp.flushSlot(uint16(i))
	}
	hp.flushMeta()
}

func (hp *HeapPage) flushMeta() {
	body := hp.page.Body()
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(hp.slots)))
	binary.LittleEndian.PutUint16(body[2:4], hp.freeStart)
	binary.LittleEndian.PutUint16(body[4:6], hp.fragment)
	binary.LittleEndian.PutUint16(body[6:8], 0)
}

func (hp *HeapPage) flushSlot(slot uint16) {
	body := hp.page.Body()
	off := HeapMetaSize + int(slot)*SlotEntrySize
	s := hp.slots[slot]
	binary.LittleEndian.PutUint16(body[off:off+2], s.offset)
	binary.LittleEndian.PutUint16(body[off+2:off+4], s.length)
}

// SlotCount returns the directory length (including deleted entries).
func (hp *HeapPage) SlotCount() uint16 {
	return uint16(len(hp.slots))
}

// Page returns the underlying raw page.
func (hp *HeapPage) Page() *Page {
	return hp.page
}

// HeapPageIter yields every live (value, slot id) pair in ascending slot
// order.
type HeapPageIter struct {
	hp   *HeapPage
	next uint16
}

// Iter returns a fresh iterator starting at slot 0.
func (hp *HeapPage) Iter() *HeapPageIter {
	return &HeapPageIter{hp: hp, next: 0}
}

// IterFrom returns an iterator starting at the given slot id, inclusive.
func (hp *HeapPage) IterFrom(slot uint16) *HeapPageIter {
	return &HeapPageIter{hp: hp, next: slot}
}

// Next returns the next live value and its slot id, or ok=false once the
// directory is exhausted.
func (it *HeapPageIter) Next() (value []byte, slot uint16, ok bool) {
	for it.next < uint16(len(it.hp.slots)) {
		id := it.next
		it.next++
		if v, live := it.hp.GetValue(id); live {
			return v, id, true
		}
	}
	return nil, 0, false
}
