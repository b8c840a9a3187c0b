package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultBufferPoolFrames is the default bounded pool capacity (50 frames
// at PageSize bytes each, ~200 KiB).
const DefaultBufferPoolFrames = 50

// BufferPool is the disk-backed, bounded MemPool: a fixed-size vector of
// frames, one BaseFile per container, a pluggable eviction policy, and
// dirty-page writeback on eviction.
type BufferPool struct {
	mu sync.RWMutex

	dbDir      string
	direct     bool
	frames     []*BufferFrame
	pageTable  map[PageKey]int
	free       []int // indices of frames that currently hold no page
	containers map[ContainerID]*containerState
	files      map[ContainerID]*BaseFile

	evict EvictionPolicy

	diskCreated, diskRead, diskWrite uint64
	hits, misses, evictions         uint64
}

// NewBufferPool constructs a disk-backed pool of the given capacity
// (DefaultBufferPoolFrames if <= 0), rooted at dbDir, using evict for
// victim selection (NewLRUEvictionPolicy if nil).
func NewBufferPool(dbDir string, capacity int, direct bool, evict EvictionPolicy) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultBufferPoolFrames
	}
	if evict == nil {
		evict = NewLRUEvictionPolicy()
	}
	frames := make([]*BufferFrame, capacity)
	free := make([]int, capacity)
	for i := range frames {
		frames[i] = newBufferFrame(i)
		free[i] = capacity - 1 - i // pop from the end; fill low indices first
	}
	return &BufferPool{
		dbDir:      dbDir,
		direct:     direct,
		frames:     frames,
		pageTable:  make(map[PageKey]int),
		free:       free,
		containers: make(map[ContainerID]*containerState),
		files:      make(map[ContainerID]*BaseFile),
		evict:      evict,
	}
}

func (p *BufferPool) fileFor(cID ContainerID) (*BaseFile, error) {
	if f, ok := p.files[cID]; ok {
		return f, nil
	}
	f, err := NewBaseFile(p.dbDir, cID, p.direct)
	if err != nil {
		return nil, err
	}
	p.files[cID] = f
	return f, nil
}

func (p *BufferPool) CreateContainer(cID ContainerID, isTemp bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.fileFor(cID); err != nil {
		return err
	}
	p.containers[cID] = &containerState{isTemp: isTemp, nextPageID: 0}
	return nil
}

func (p *BufferPool) DropContainer(cID ContainerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, idx := range p.pageTable {
		if key.ContainerID == cID {
			delete(p.pageTable, key)
			p.frames[idx].valid = false
			p.free = append(p.free, idx)
		}
	}
	delete(p.containers, cID)
	if f, ok := p.files[cID]; ok {
		f.Close()
		delete(p.files, cID)
	}
	return nil
}

// pickVictim chooses an unlatched frame with the lowest eviction score,
// preferring a frame from the free list (one holding no page), and returns it already exclusively
// latched via a non-dirtying write guard (eviction writeback only reads
// and then reassigns the frame; it must not implicitly mark it dirty the
// way a caller about to mutate the page would). Ties broken by lowest
// frame index. Must be called with p.mu held.
func (p *BufferPool) pickVictim() (*FrameWriteGuard, bool) {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		return p.frames[idx].acquireWrite(false), true
	}

	var best *FrameWriteGuard
	var bestScore uint64
	for _, f := range p.frames {
		guard, ok := f.tryAcquireWrite(false)
		if !ok {
			continue
		}
		score := p.evict.Score(f)
		if best == nil || score < bestScore {
			if best != nil {
				best.Release()
			}
			best = guard
			bestScore = score
		} else {
			guard.Release()
		}
	}
	return best, best != nil
}

// writeBackAndReassign evicts frame (already exclusively latched by the
// caller via pickVictim) and reassigns it to key, reading key's page from
// disk. The frame is left exclusively latched.
func (p *BufferPool) writeBackAndReassign(frame *BufferFrame, key PageKey) error {
	if frame.valid && frame.dirty {
		f, err := p.fileFor(frame.key.ContainerID)
		if err != nil {
			return err
		}
		if err := f.WritePage(frame.key.PageID, frame.page); err != nil {
			return err
		}
		atomic.AddUint64(&p.diskWrite, 1)
		frame.dirty = false
	}
	if frame.valid {
		delete(p.pageTable, frame.key)
	}

	f, err := p.fileFor(key.ContainerID)
	if err != nil {
		return err
	}
	page := NewPage(key.PageID)
	if err := f.ReadPage(key.PageID, page); err != nil {
		return err
	}
	atomic.AddUint64(&p.diskRead, 1)

	frame.page = page
	frame.key = key
	frame.valid = true
	frame.dirty = false
	p.evict.Reset(frame)
	p.pageTable[key] = frame.index
	return nil
}

func (p *BufferPool) lookup(key PageKey, hintFrame int) (int, bool) {
	if hintFrame >= 0 && hintFrame < len(p.frames) {
		f := p.frames[hintFrame]
		if f.valid && f.key == key {
			return hintFrame, true
		}
	}
	idx, ok := p.pageTable[key]
	return idx, ok
}

// fetch implements the miss path of spec 4.5's algorithm: pick a victim,
// write it back if dirty, and read the requested page in. It returns the
// frame index holding key, exclusively latched.
func (p *BufferPool) fetch(key PageKey) (int, error) {
	for {
		p.mu.Lock()
		if idx, ok := p.lookup(key, -1); ok {
			frame := p.frames[idx]
			p.mu.Unlock()
			frame.latch.Lock()
			if frame.valid && frame.key == key {
				return idx, nil
			}
			frame.latch.Unlock()
			continue
		}

		guard, ok := p.pickVictim()
		if !ok {
			p.mu.Unlock()
			return 0, ErrCannotEvictPage
		}
		frame := guard.frame
		if err := p.writeBackAndReassign(frame, key); err != nil {
			guard.Release()
			p.mu.Unlock()
			return 0, err
		}
		atomic.AddUint64(&p.evictions, 1)
		p.mu.Unlock()
		return frame.index, nil
	}
}

func (p *BufferPool) CreateNewPageForWrite(cID ContainerID) (PageKey, *FrameWriteGuard, error) {
	p.mu.Lock()
	cs, ok := p.containers[cID]
	if !ok {
		p.mu.Unlock()
		return PageKey{}, nil, fmt.Errorf("%w: container %d", ErrContainerNotFound, cID)
	}
	pageID := cs.nextPageID
	cs.nextPageID++
	key := PageKey{ContainerID: cID, PageID: pageID}

	guard, ok := p.pickVictim()
	if !ok {
		p.mu.Unlock()
		return PageKey{}, nil, ErrCannotEvictPage
	}
	frame := guard.frame

	if frame.valid && frame.dirty {
		f, err := p.fileFor(frame.key.ContainerID)
		if err == nil {
			err = f.WritePage(frame.key.PageID, frame.page)
		}
		if err != nil {
			cs.nextPageID--
			guard.Release()
			p.mu.Unlock()
			return PageKey{}, nil, err
		}
		atomic.AddUint64(&p.diskWrite, 1)
	}
	if frame.valid {
		delete(p.pageTable, frame.key)
	}

	frame.page = NewPage(pageID)
	frame.key = key
	frame.valid = true
	frame.dirty = true
	p.evict.Reset(frame)
	p.pageTable[key] = frame.index
	atomic.AddUint64(&p.diskCreated, 1)
	p.mu.Unlock()

	guard.page = frame.page
	return key, guard, nil
}

func (p *BufferPool) CreateNewPagesForWrite(cID ContainerID, n int) ([]PageKey, []*FrameWriteGuard, error) {
	keys := make([]PageKey, 0, n)
	guards := make([]*FrameWriteGuard, 0, n)
	for i := 0; i < n; i++ {
		key, guard, err := p.CreateNewPageForWrite(cID)
		if err != nil {
			for _, g := range guards {
				g.Release()
			}
			return nil, nil, err
		}
		keys = append(keys, key)
		guards = append(guards, guard)
	}
	return keys, guards, nil
}

func (p *BufferPool) GetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error) {
	p.mu.RLock()
	idx, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()

	if ok {
		frame := p.frames[idx]
		frame.latch.RLock()
		if frame.valid && frame.key == key {
			atomic.AddUint64(&p.hits, 1)
			p.evict.Update(frame)
			return &FrameReadGuard{frame: frame, page: frame.page}, nil
		}
		frame.latch.RUnlock()
	}

	for {
		atomic.AddUint64(&p.misses, 1)
		idx, err := p.fetch(key)
		if err != nil {
			return nil, err
		}
		frame := p.frames[idx]
		// fetch returns the frame exclusively latched; downgrade to shared
		// by releasing and immediately re-acquiring for read. The frame is
		// briefly fully unlatched in that gap with a freshly reset (most
		// evictable) score, so another thread's fetch may reassign it to a
		// different key before the RLock lands; re-validate and retry
		// fetch on a mismatch instead of handing back a guard over the
		// wrong page.
		frame.latch.Unlock()
		frame.latch.RLock()
		if frame.valid && frame.key == key {
			p.evict.Update(frame)
			return &FrameReadGuard{frame: frame, page: frame.page}, nil
		}
		frame.latch.RUnlock()
	}
}

func (p *BufferPool) GetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error) {
	p.mu.RLock()
	idx, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()

	if ok {
		frame := p.frames[idx]
		frame.latch.Lock()
		if frame.valid && frame.key == key {
			atomic.AddUint64(&p.hits, 1)
			frame.dirty = true
			p.evict.Update(frame)
			return &FrameWriteGuard{frame: frame, page: frame.page}, nil
		}
		frame.latch.Unlock()
	}

	atomic.AddUint64(&p.misses, 1)
	idx, err := p.fetch(key)
	if err != nil {
		return nil, err
	}
	frame := p.frames[idx]
	frame.dirty = true
	p.evict.Update(frame)
	return &FrameWriteGuard{frame: frame, page: frame.page}, nil
}

// TryGetPageForRead is the non-blocking counterpart of GetPageForRead: it
// never fetches from disk or evicts, and fails fast with
// ErrReadLatchGrantFailed rather than waiting for an exclusive latch held
// elsewhere, for a "try-or-spin" caller loop.
func (p *BufferPool) TryGetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error) {
	p.mu.RLock()
	idx, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}

	frame := p.frames[idx]
	guard, ok := frame.tryAcquireRead()
	if !ok {
		return nil, ErrReadLatchGrantFailed
	}
	if !frame.valid || frame.key != key {
		guard.Release()
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	atomic.AddUint64(&p.hits, 1)
	p.evict.Update(frame)
	return guard, nil
}

// TryGetPageForWrite is the non-blocking counterpart of GetPageForWrite: it
// fails fast with ErrWriteLatchGrantFailed rather than waiting for a latch
// held elsewhere.
func (p *BufferPool) TryGetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error) {
	p.mu.RLock()
	idx, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}

	frame := p.frames[idx]
	guard, ok := frame.tryAcquireWrite(true)
	if !ok {
		return nil, ErrWriteLatchGrantFailed
	}
	if !frame.valid || frame.key != key {
		guard.Release()
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	atomic.AddUint64(&p.hits, 1)
	p.evict.Update(frame)
	return guard, nil
}

func (p *BufferPool) IsInMem(key PageKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pageTable[key]
	return ok
}

func (p *BufferPool) GetMaxPageID(cID ContainerID) (PageID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cs, ok := p.containers[cID]
	if !ok {
		return 0, fmt.Errorf("%w: container %d", ErrContainerNotFound, cID)
	}
	if cs.nextPageID == 0 {
		return 0, nil
	}
	return cs.nextPageID - 1, nil
}

func (p *BufferPool) PrefetchPage(_ PageKey) error { return nil }

func (p *BufferPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perContainer := make(map[ContainerID]int)
	for key, idx := range p.pageTable {
		if p.frames[idx].valid {
			perContainer[key.ContainerID]++
		}
	}
	return PoolStats{
		DiskCreated:        atomic.LoadUint64(&p.diskCreated),
		DiskRead:           atomic.LoadUint64(&p.diskRead),
		DiskWrite:          atomic.LoadUint64(&p.diskWrite),
		Hits:               atomic.LoadUint64(&p.hits),
		Misses:             atomic.LoadUint64(&p.misses),
		Evictions:          atomic.LoadUint64(&p.evictions),
		FramesPerContainer: perContainer,
	}
}

func (p *BufferPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		f.Close()
	}
	p.files = make(map[ContainerID]*BaseFile)
	p.containers = make(map[ContainerID]*containerState)
	p.pageTable = make(map[PageKey]int)
	p.free = p.free[:0]
	for i, f := range p.frames {
		f.valid = false
		f.dirty = false
		p.free = append(p.free, i)
	}
	return nil
}

func (p *BufferPool) ResetStats() {
	atomic.StoreUint64(&p.diskCreated, 0)
	atomic.StoreUint64(&p.diskRead, 0)
	atomic.StoreUint64(&p.diskWrite, 0)
	atomic.StoreUint64(&p.hits, 0)
	atomic.StoreUint64(&p.misses, 0)
	atomic.StoreUint64(&p.evictions, 0)
}

// FlushAll writes every dirty frame back to disk and clears its dirty
// bit. Two consecutive calls with no intervening writes perform zero
// writes on the second call, since the first clears every dirty bit it
// touches.
func (p *BufferPool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushAllLocked()
}

func (p *BufferPool) flushAllLocked() error {
	for _, frame := range p.frames {
		if !frame.valid || !frame.dirty {
			continue
		}
		frame.latch.Lock()
		if frame.valid && frame.dirty {
			f, err := p.fileFor(frame.key.ContainerID)
			if err != nil {
				frame.latch.Unlock()
				return err
			}
			if err := f.WritePage(frame.key.PageID, frame.page); err != nil {
				frame.latch.Unlock()
				return err
			}
			atomic.AddUint64(&p.diskWrite, 1)
			frame.dirty = false
		}
		frame.latch.Unlock()
	}
	return nil
}

func (p *BufferPool) FlushAllAndReset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushAllLocked(); err != nil {
		return err
	}
	p.pageTable = make(map[PageKey]int)
	p.free = p.free[:0]
	for i, f := range p.frames {
		f.valid = false
		p.free = append(p.free, i)
	}
	return nil
}

func (p *BufferPool) ClearDirtyFlags() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.frames {
		f.dirty = false
	}
}

func (p *BufferPool) FastEvict(frameIndex int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if frameIndex < 0 || frameIndex >= len(p.frames) {
		return fmt.Errorf("%w: frame %d out of range", ErrCannotEvictPage, frameIndex)
	}
	frame := p.frames[frameIndex]
	if !frame.latch.TryLock() {
		return ErrCannotEvictPage
	}
	defer frame.latch.Unlock()
	if frame.valid {
		delete(p.pageTable, frame.key)
	}
	frame.valid = false
	frame.dirty = false
	p.free = append(p.free, frameIndex)
	atomic.AddUint64(&p.evictions, 1)
	return nil
}

// Close flushes and closes every open container file.
func (p *BufferPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushAllLocked(); err != nil {
		return err
	}
	for _, f := range p.files {
		if err := f.Flush(); err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
