package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ncw/directio"
)

// FileStats mirrors the read/write counters a BaseFile tracks, split by
// whether the access went through direct I/O.
type FileStats struct {
	ReadCount       int64
	WriteCount      int64
	DirectReadCount int64
	DirectWriteCount int64
}

func (fs *FileStats) incRead(direct bool) {
	if direct {
		atomic.AddInt64(&fs.DirectReadCount, 1)
	} else {
		atomic.AddInt64(&fs.ReadCount, 1)
	}
}

func (fs *FileStats) incWrite(direct bool) {
	if direct {
		atomic.AddInt64(&fs.DirectWriteCount, 1)
	} else {
		atomic.AddInt64(&fs.WriteCount, 1)
	}
}

// Snapshot returns a copy safe to read without further synchronization.
func (fs *FileStats) Snapshot() FileStats {
	return FileStats{
		ReadCount:        atomic.LoadInt64(&fs.ReadCount),
		WriteCount:       atomic.LoadInt64(&fs.WriteCount),
		DirectReadCount:  atomic.LoadInt64(&fs.DirectReadCount),
		DirectWriteCount: atomic.LoadInt64(&fs.DirectWriteCount),
	}
}

// ErrPageIDMismatch signals that a page read from or about to be written to
// disk carries a header PageId that does not match the position it was
// read from or is being written to. It indicates corruption and is never
// silently swallowed.
var ErrPageIDMismatch = errors.New("storage: page id mismatch")

// BaseFile manages the on-disk file backing one container: a tightly
// packed sequence of PageSize pages, positioned reads and writes only, no
// seeking, so concurrent callers never race on the file offset.
type BaseFile struct {
	path   string
	file   *os.File
	stats  FileStats
	direct bool
}

// NewBaseFile opens (creating if necessary, never truncating) the file
// backing containerID under dbDir. When direct is true and the platform
// supports O_DIRECT, pages are read/written through page-aligned buffers
// and Flush becomes a no-op; otherwise a conventional buffered file is
// used and Flush issues an fsync.
func NewBaseFile(dbDir string, containerID ContainerID, direct bool) (*BaseFile, error) {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create container directory: %w", err)
	}
	path := filepath.Join(dbDir, fmt.Sprintf("%d", containerID))

	var f *os.File
	var err error
	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			// Not every filesystem supports O_DIRECT (tmpfs, some CI
			// runners); fall back to a buffered file rather than fail
			// container creation outright.
			f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			direct = false
		}
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open container file: %w", err)
	}

	return &BaseFile{path: path, file: f, direct: direct}, nil
}

// NumPages derives the page count from the file's byte length. A stat
// failure reports 0 rather than propagating, matching a freshly created,
// still-empty container.
func (bf *BaseFile) NumPages() uint32 {
	info, err := bf.file.Stat()
	if err != nil {
		return 0
	}
	return uint32(info.Size() / PageSize)
}

// Stats returns a snapshot of this file's read/write counters.
func (bf *BaseFile) Stats() FileStats {
	return bf.stats.Snapshot()
}

// PrefetchPage is an advisory hint; the default implementation is a no-op.
func (bf *BaseFile) PrefetchPage(_ PageID) error {
	return nil
}

func (bf *BaseFile) readBuffer() []byte {
	if bf.direct {
		return directio.AlignedBlock(PageSize)
	}
	return make([]byte, PageSize)
}

// ReadPage performs a positioned read of one page into dst. It asserts
// (returns ErrPageIDMismatch rather than panicking) that the header's
// PageId recovered from disk matches pageID.
func (bf *BaseFile) ReadPage(pageID PageID, dst *Page) error {
	buf := bf.readBuffer()
	n, err := bf.file.ReadAt(buf, int64(pageID)*PageSize)
	if err != nil {
		return fmt.Errorf("storage: read page %d: %w", pageID, err)
	}
	if n != PageSize {
		return fmt.Errorf("storage: short read of page %d: got %d bytes", pageID, n)
	}
	bf.stats.incRead(bf.direct)

	if err := dst.LoadBytes(buf); err != nil {
		return err
	}
	if dst.ID != pageID {
		return fmt.Errorf("%w: expected %d, got %d", ErrPageIDMismatch, pageID, dst.ID)
	}
	return nil
}

// WritePage performs a positioned write of one page at pageID's offset.
func (bf *BaseFile) WritePage(pageID PageID, p *Page) error {
	if p.ID != pageID {
		return fmt.Errorf("%w: expected %d, got %d", ErrPageIDMismatch, pageID, p.ID)
	}

	buf := p.Bytes()
	if bf.direct {
		aligned := directio.AlignedBlock(PageSize)
		copy(aligned, buf)
		buf = aligned
	}

	n, err := bf.file.WriteAt(buf, int64(pageID)*PageSize)
	if err != nil {
		return fmt.Errorf("storage: write page %d: %w", pageID, err)
	}
	if n != PageSize {
		return fmt.Errorf("storage: short write of page %d: wrote %d bytes", pageID, n)
	}
	bf.stats.incWrite(bf.direct)
	return nil
}

// Flush is a no-op under direct I/O (every write already bypassed the page
// cache); otherwise it issues an fsync.
func (bf *BaseFile) Flush() error {
	if bf.direct {
		return nil
	}
	return bf.file.Sync()
}

// Close releases the underlying file descriptor.
func (bf *BaseFile) Close() error {
	return bf.file.Close()
}
