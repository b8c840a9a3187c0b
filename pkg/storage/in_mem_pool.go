package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type containerState struct {
	nextPageID PageID
	isTemp     bool
}

// InMemPool is an unbounded, disk-free MemPool: a growable vector of
// frames guarded by one pool-wide read-write latch that protects the
// frame vector and the page table only -- actual page bytes remain
// governed by each frame's own latch. Eviction never runs (the frame
// vector just grows), so it carries the Dummy eviction policy purely for
// interface symmetry with BufferPool.
type InMemPool struct {
	mu         sync.RWMutex
	containers map[ContainerID]*containerState
	pageTable  map[PageKey]int
	frames     []*BufferFrame

	evict EvictionPolicy

	hits, misses, evictions uint64
}

// NewInMemPool constructs an empty in-memory pool.
func NewInMemPool() *InMemPool {
	return &InMemPool{
		containers: make(map[ContainerID]*containerState),
		pageTable:  make(map[PageKey]int),
		evict:      NewDummyEvictionPolicy(),
	}
}

func (p *InMemPool) CreateContainer(cID ContainerID, isTemp bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.containers[cID] = &containerState{isTemp: isTemp}
	return nil
}

func (p *InMemPool) DropContainer(cID ContainerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.containers, cID)
	for key, idx := range p.pageTable {
		if key.ContainerID == cID {
			delete(p.pageTable, key)
			p.frames[idx].valid = false
		}
	}
	return nil
}

func (p *InMemPool) allocateFrame(key PageKey) *FrameWriteGuard {
	idx := len(p.frames)
	frame := newBufferFrame(idx)
	frame.page = NewPage(key.PageID)
	frame.key = key
	frame.valid = true
	frame.dirty = true
	p.frames = append(p.frames, frame)
	p.pageTable[key] = idx

	guard := frame.acquireWrite(true)
	return guard
}

func (p *InMemPool) CreateNewPageForWrite(cID ContainerID) (PageKey, *FrameWriteGuard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cs, ok := p.containers[cID]
	if !ok {
		return PageKey{}, nil, fmt.Errorf("%w: container %d", ErrContainerNotFound, cID)
	}
	pageID := cs.nextPageID
	cs.nextPageID++
	key := PageKey{ContainerID: cID, PageID: pageID}
	guard := p.allocateFrame(key)
	atomic.AddUint64(&p.evictions, 0) // no eviction in this pool, kept for symmetry
	return key, guard, nil
}

func (p *InMemPool) CreateNewPagesForWrite(cID ContainerID, n int) ([]PageKey, []*FrameWriteGuard, error) {
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

func (p *InMemPool) lookup(key PageKey, hintFrame int) (*BufferFrame, bool) {
	if hintFrame >= 0 && hintFrame < len(p.frames) {
		f := p.frames[hintFrame]
		if f.valid && f.key == key {
			return f, true
		}
	}
	idx, ok := p.pageTable[key]
	if !ok {
		return nil, false
	}
	return p.frames[idx], true
}

func (p *InMemPool) GetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error) {
	p.mu.RLock()
	frame, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&p.misses, 1)
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	atomic.AddUint64(&p.hits, 1)
	return frame.acquireRead(), nil
}

func (p *InMemPool) GetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error) {
	p.mu.RLock()
	frame, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&p.misses, 1)
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	atomic.AddUint64(&p.hits, 1)
	return frame.acquireWrite(true), nil
}

// TryGetPageForRead is the non-blocking counterpart of GetPageForRead: it
// fails fast with ErrReadLatchGrantFailed rather than blocking on a latch
// held elsewhere.
func (p *InMemPool) TryGetPageForRead(key PageKey, hintFrame int) (*FrameReadGuard, error) {
	p.mu.RLock()
	frame, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&p.misses, 1)
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	guard, ok := frame.tryAcquireRead()
	if !ok {
		return nil, ErrReadLatchGrantFailed
	}
	atomic.AddUint64(&p.hits, 1)
	return guard, nil
}

// TryGetPageForWrite is the non-blocking counterpart of GetPageForWrite: it
// fails fast with ErrWriteLatchGrantFailed rather than blocking on a latch
// held elsewhere.
func (p *InMemPool) TryGetPageForWrite(key PageKey, hintFrame int) (*FrameWriteGuard, error) {
	p.mu.RLock()
	frame, ok := p.lookup(key, hintFrame)
	p.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&p.misses, 1)
		return nil, fmt.Errorf("%w: %+v", ErrPageNotFound, key)
	}
	guard, ok := frame.tryAcquireWrite(true)
	if !ok {
		return nil, ErrWriteLatchGrantFailed
	}
	atomic.AddUint64(&p.hits, 1)
	return guard, nil
}

func (p *InMemPool) IsInMem(key PageKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pageTable[key]
	return ok
}

func (p *InMemPool) GetMaxPageID(cID ContainerID) (PageID, error) {
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

func (p *InMemPool) PrefetchPage(_ PageKey) error { return nil }

func (p *InMemPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perContainer := make(map[ContainerID]int)
	for key, idx := range p.pageTable {
		if p.frames[idx].valid {
			perContainer[key.ContainerID]++
		}
	}
	return PoolStats{
		Hits:                atomic.LoadUint64(&p.hits),
		Misses:              atomic.LoadUint64(&p.misses),
		Evictions:           atomic.LoadUint64(&p.evictions),
		FramesPerContainer:  perContainer,
	}
}

func (p *InMemPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.containers = make(map[ContainerID]*containerState)
	p.pageTable = make(map[PageKey]int)
	p.frames = nil
	return nil
}

func (p *InMemPool) ResetStats() {
	atomic.StoreUint64(&p.hits, 0)
	atomic.StoreUint64(&p.misses, 0)
	atomic.StoreUint64(&p.evictions, 0)
}

// FlushAll is a no-op: there is no disk to flush to. FlushAllAndReset has
// nothing to flush and simply calls Reset, which forgets every container
// and frame. ClearDirtyFlags clears the frames' dirty bits.
func (p *InMemPool) FlushAll() error { return nil }

func (p *InMemPool) FlushAllAndReset() error {
	return p.Reset()
}

func (p *InMemPool) ClearDirtyFlags() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.frames {
		f.dirty = false
	}
}

func (p *InMemPool) FastEvict(frameIndex int) error {
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
	delete(p.pageTable, frame.key)
	frame.valid = false
	atomic.AddUint64(&p.evictions, 1)
	return nil
}
