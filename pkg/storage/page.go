package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the fixed size of every page on disk and in a buffer frame.
	PageSize = 4096

	// PageHeaderSize is the size of the fixed page header, before any
	// heap-page metadata or slot directory.
	PageHeaderSize = 16
)

// PageID is a page ordinal within a container. Page 0 is reserved as a
// header page by convention; data pages begin at 1.
type PageID uint32

// ContainerID identifies one logical heap file.
type ContainerID uint16

// Page is the raw fixed-size buffer shared by every on-disk and in-memory
// representation of a page. It carries only the fixed header; everything
// past PageHeaderSize is private to whatever layout is stacked on top of it
// (see HeapPage).
type Page struct {
	ID    PageID
	Flags uint8
	Lsn   uint64 // opaque log position, threaded through uninterpreted
	Data  []byte // PageSize bytes total, header included
}

// NewPage allocates a zeroed page stamped with the given id.
func NewPage(id PageID) *Page {
	p := &Page{
		ID:   id,
		Data: make([]byte, PageSize),
	}
	p.putHeader()
	return p
}

// putHeader writes the fixed header fields into Data[0:PageHeaderSize].
func (p *Page) putHeader() {
	binary.LittleEndian.PutUint32(p.Data[0:4], uint32(p.ID))
	p.Data[4] = p.Flags
	binary.LittleEndian.PutUint64(p.Data[6:14], p.Lsn)
}

// readHeader refreshes ID/Flags/Lsn from Data, leaving Data untouched.
func (p *Page) readHeader() {
	p.ID = PageID(binary.LittleEndian.Uint32(p.Data[0:4]))
	p.Flags = p.Data[4]
	p.Lsn = binary.LittleEndian.Uint64(p.Data[6:14])
}

// Body returns the portion of Data past the fixed header. Callers that
// stack a layout (e.g. HeapPage) on top of Page operate on this slice.
func (p *Page) Body() []byte {
	return p.Data[PageHeaderSize:]
}

// Bytes returns the full PageSize backing buffer, header included, and is
// what BaseFile reads/writes at page-aligned offsets.
func (p *Page) Bytes() []byte {
	p.putHeader()
	return p.Data
}

// LoadBytes replaces Data with a full PageSize buffer read from disk and
// refreshes the header fields parsed from it. buf is kept as Data without
// being copied.
func (p *Page) LoadBytes(buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("storage: invalid page size: expected %d, got %d", PageSize, len(buf))
	}
	p.Data = buf
	p.readHeader()
	return nil
}
