package storage

import "sync"

// PageKey identifies a resident page by its owning container and page id.
type PageKey struct {
	ContainerID ContainerID
	PageID      PageID
}

// BufferFrame is one cacheable slot: a page-sized buffer plus a
// reader-writer latch, a dirty bit, the key it currently holds (if any),
// a frame-local eviction score, and its own stable index. Frames are
// allocated once and reused for the pool's lifetime, so a held guard's
// pointer into frame.page is never invalidated by pool growth.
//
// sync.RWMutex already gives writer-preference semantics and TryLock /
// TryRLock, so it stands in directly for the custom latch type the
// original implementation hand-rolls around raw pointers.
type BufferFrame struct {
	index int
	latch sync.RWMutex

	page  *Page
	key   PageKey
	valid bool
	dirty bool

	evictionScore uint64
}

func newBufferFrame(index int) *BufferFrame {
	return &BufferFrame{index: index}
}

// Index is this frame's stable position in the pool's frame vector.
func (f *BufferFrame) Index() int { return f.index }

// Key reports the (container, page) currently resident in this frame.
// Only meaningful when Valid() is true.
func (f *BufferFrame) Key() PageKey { return f.key }

// Valid reports whether the frame currently holds a page.
func (f *BufferFrame) Valid() bool { return f.valid }

// Dirty reports whether the frame's bytes differ from what is on disk.
func (f *BufferFrame) Dirty() bool { return f.dirty }

// FrameReadGuard is a RAII-style shared latch on a frame. Release must be
// called exactly once.
type FrameReadGuard struct {
	frame *BufferFrame
	page  *Page
}

// Page returns a read-only view of the guarded page.
func (g *FrameReadGuard) Page() *Page { return g.page }

// Release drops the shared latch.
func (g *FrameReadGuard) Release() {
	g.frame.latch.RUnlock()
}

// FrameWriteGuard is a RAII-style exclusive latch on a frame.
type FrameWriteGuard struct {
	frame    *BufferFrame
	page     *Page
	released bool
}

// Page returns a mutable view of the guarded page.
func (g *FrameWriteGuard) Page() *Page { return g.page }

// MarkDirty flags the frame dirty. Acquiring a write guard normally
// implies this the first time it is handed out; callers that only need to
// read under an exclusive latch (eviction writeback, for instance) acquire
// with makeDirty=false and never call this.
func (g *FrameWriteGuard) MarkDirty() {
	g.frame.dirty = true
}

// Release drops the exclusive latch.
func (g *FrameWriteGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.frame.latch.Unlock()
}

// acquireRead blocks until the shared latch is held and returns a guard.
func (f *BufferFrame) acquireRead() *FrameReadGuard {
	f.latch.RLock()
	return &FrameReadGuard{frame: f, page: f.page}
}

// tryAcquireRead attempts a non-blocking shared latch.
func (f *BufferFrame) tryAcquireRead() (*FrameReadGuard, bool) {
	if !f.latch.TryRLock() {
		return nil, false
	}
	return &FrameReadGuard{frame: f, page: f.page}, true
}

// acquireWrite blocks until the exclusive latch is held, optionally
// marking the frame dirty immediately (the common case: a caller about to
// mutate the page). Eviction writeback acquires with makeDirty=false: it
// only reads the frame's current contents out to disk and then reassigns
// it, so handing out the latch must not itself dirty the frame.
func (f *BufferFrame) acquireWrite(makeDirty bool) *FrameWriteGuard {
	f.latch.Lock()
	if makeDirty {
		f.dirty = true
	}
	return &FrameWriteGuard{frame: f, page: f.page}
}

// tryAcquireWrite attempts a non-blocking exclusive latch.
func (f *BufferFrame) tryAcquireWrite(makeDirty bool) (*FrameWriteGuard, bool) {
	if !f.latch.TryLock() {
		return nil, false
	}
	if makeDirty {
		f.dirty = true
	}
	return &FrameWriteGuard{frame: f, page: f.page}, true
}
