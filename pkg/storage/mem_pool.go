package storage

// PoolStats is a snapshot of pool-wide counters, richer than a bare
// hit/miss count so `stats()` gives callers (and the miss-storm and
// flush-idempotence tests) enough to assert on.
type PoolStats struct {
	DiskCreated uint64
	DiskRead    uint64
	DiskWrite   uint64
	Hits        uint64
	Misses      uint64
	Evictions   uint64

	// FramesPerContainer counts resident frames per container at the
	// moment of the snapshot.
	FramesPerContainer map[ContainerID]int
}

// MemPool is the buffer-pool contract shared by InMemPool and the
// disk-backed BufferPool: map (container, page) -> frame; fetch, pin,
// evict.
type MemPool interface {
	// CreateContainer registers c_id and initializes its next-page
	// counter to 0. isTemp is recorded with the container but does not
	// change any behaviour: BufferPool writes a temp container's dirty
	// pages back to disk like any other, and InMemPool has no disk.
	CreateContainer(cID ContainerID, isTemp bool) error

	// DropContainer forgets c_id and evicts all of its resident frames.
	DropContainer(cID ContainerID) error

	// CreateNewPageForWrite allocates the next page id in cID, places it
	// in a free or victim frame, and returns a write-latched guard over
	// the zeroed, dirty page.
	CreateNewPageForWrite(cID ContainerID) (PageKey, *FrameWriteGuard, error)

	// CreateNewPagesForWrite is the batched form of
	// CreateNewPageForWrite: page ids are contiguous.
	CreateNewPagesForWrite(cID ContainerID, n int) ([]PageKey, []*FrameWriteGuard, error)

	// GetPageForRead returns a shared-latched guard for key, fetching
	// from disk on a miss. hintFrame, if >= 0, is validated under latch
	// before falling back to a page-table lookup.
	GetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error)

	// GetPageForWrite is the exclusive-latch counterpart of
	// GetPageForRead; the returned guard is marked dirty.
	GetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error)

	// TryGetPageForRead is the non-blocking variant of GetPageForRead for
	// a "try-or-spin" caller loop: it never fetches from disk, and fails
	// fast with ErrPageNotFound if key isn't resident or
	// ErrReadLatchGrantFailed if the frame is exclusively latched
	// elsewhere, rather than blocking.
	TryGetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error)

	// TryGetPageForWrite is the non-blocking variant of GetPageForWrite:
	// ErrPageNotFound if key isn't resident, ErrWriteLatchGrantFailed if
	// the frame is latched elsewhere.
	TryGetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error)

	// IsInMem reports whether key is currently resident.
	IsInMem(key PageKey) bool

	// GetMaxPageID returns the highest allocated page id for cID, or
	// ErrContainerNotFound.
	GetMaxPageID(cID ContainerID) (PageID, error)

	// PrefetchPage is an advisory hint; implementations may treat it as
	// a no-op.
	PrefetchPage(key PageKey) error

	// Stats returns a snapshot of pool-wide counters.
	Stats() PoolStats

	// Reset forgets every container and frame, as if newly constructed.
	Reset() error

	// ResetStats zeroes the counters without touching resident pages.
	ResetStats()

	// FlushAll writes every dirty frame back to disk and clears its
	// dirty bit. A disk-free pool treats this as a no-op.
	FlushAll() error

	// FlushAllAndReset flushes, then additionally purges the page
	// table.
	FlushAllAndReset() error

	// ClearDirtyFlags clears every frame's dirty bit without writing
	// anything back.
	ClearDirtyFlags()

	// FastEvict forcibly evicts the frame at the given index regardless
	// of its eviction score, failing if the frame is currently latched.
	FastEvict(frameIndex int) error
}

var (
	_ MemPool = (*InMemPool)(nil)
	_ MemPool = (*BufferPool)(nil)
)
