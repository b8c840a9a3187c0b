package storage

import "fmt"

// ValueID globally addresses one stored value.
type ValueID struct {
	ContainerID ContainerID
	PageID      PageID
	SlotID      uint16
}

// headerPageID is the page reserved, by convention, as a container's
// header page. Data pages begin at headerPageID+1 even though the header
// page itself is otherwise unused by this layer.
const headerPageID PageID = 0

// HeapFile is a handle (ContainerID, MemPool); it holds no state of its
// own, all persistent state lives in pages through the pool.
type HeapFile struct {
	containerID ContainerID
	pool        MemPool
}

// NewHeapFile creates a fresh container in pool and reserves page 0 as its
// header page.
func NewHeapFile(containerID ContainerID, pool MemPool) (*HeapFile, error) {
	if err := pool.CreateContainer(containerID, false); err != nil {
		return nil, err
	}
	key, guard, err := pool.CreateNewPageForWrite(containerID)
	if err != nil {
		return nil, fmt.Errorf("storage: reserve header page: %w", err)
	}
	defer guard.Release()
	if key.PageID != headerPageID {
		return nil, fmt.Errorf("storage: expected header page id %d, got %d", headerPageID, key.PageID)
	}
	InitHeapPage(guard.Page())
	guard.MarkDirty()
	return &HeapFile{containerID: containerID, pool: pool}, nil
}

// LoadHeapFile asserts that containerID already exists in pool and
// returns a handle to it.
func LoadHeapFile(containerID ContainerID, pool MemPool) (*HeapFile, error) {
	if _, err := pool.GetMaxPageID(containerID); err != nil {
		return nil, fmt.Errorf("storage: load heap file: %w", err)
	}
	return &HeapFile{containerID: containerID, pool: pool}, nil
}

// NumPages delegates to the pool's max page id for this container.
func (hf *HeapFile) NumPages() (PageID, error) {
	maxID, err := hf.pool.GetMaxPageID(hf.containerID)
	if err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

func (hf *HeapFile) key(pageID PageID) PageKey {
	return PageKey{ContainerID: hf.containerID, PageID: pageID}
}

// AddVal tries, from the tail page backward, to fit value onto an
// existing data page; if none fits, it allocates a new page.
func (hf *HeapFile) AddVal(value []byte) (ValueID, error) {
	numPages, err := hf.NumPages()
	if err != nil {
		return ValueID{}, err
	}

	for pid := numPages - 1; pid > headerPageID; pid-- {
		guard, err := hf.pool.GetPageForWrite(hf.key(pid), -1)
		if err != nil {
			return ValueID{}, err
		}
		hp := LoadHeapPage(guard.Page())
		if slot, ok := hp.AddValue(value); ok {
			guard.MarkDirty()
			guard.Release()
			return ValueID{ContainerID: hf.containerID, PageID: pid, SlotID: slot}, nil
		}
		guard.Release()
		if pid == headerPageID+1 {
			break
		}
	}

	key, guard, err := hf.pool.CreateNewPageForWrite(hf.containerID)
	if err != nil {
		return ValueID{}, err
	}
	defer guard.Release()
	hp := InitHeapPage(guard.Page())
	slot, ok := hp.AddValue(value)
	if !ok {
		return ValueID{}, fmt.Errorf("%w: value of %d bytes", ErrValueTooLarge, len(value))
	}
	guard.MarkDirty()
	return ValueID{ContainerID: hf.containerID, PageID: key.PageID, SlotID: slot}, nil
}

// AddVals is a batch convenience wrapper with no transaction boundary.
func (hf *HeapFile) AddVals(values [][]byte) ([]ValueID, error) {
	ids := make([]ValueID, 0, len(values))
	for _, v := range values {
		id, err := hf.AddVal(v)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetVal read-latches the owning page, copies the value out, and drops
// the guard.
func (hf *HeapFile) GetVal(pageID PageID, slotID uint16) ([]byte, error) {
	guard, err := hf.pool.GetPageForRead(hf.key(pageID), -1)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	hp := LoadHeapPage(guard.Page())
	v, ok := hp.GetValue(slotID)
	if !ok {
		return nil, ErrSlotNotFound
	}
	return v, nil
}

// DeleteVal write-latches the owning page and deletes the slot.
func (hf *HeapFile) DeleteVal(pageID PageID, slotID uint16) error {
	guard, err := hf.pool.GetPageForWrite(hf.key(pageID), -1)
	if err != nil {
		return err
	}
	defer guard.Release()
	hp := LoadHeapPage(guard.Page())
	if !hp.DeleteValue(slotID) {
		return ErrSlotNotFound
	}
	guard.MarkDirty()
	return nil
}

// UpdateVal write-latches the owning page and calls UpdateValue. If the
// new bytes don't fit in place, the old slot is deleted and the value is
// reinserted elsewhere via AddVal, returning a ValueId that differs from
// the input location. Updates that succeed in place return the original
// ValueId.
func (hf *HeapFile) UpdateVal(pageID PageID, slotID uint16, value []byte) (ValueID, error) {
	guard, err := hf.pool.GetPageForWrite(hf.key(pageID), -1)
	if err != nil {
		return ValueID{}, err
	}
	hp := LoadHeapPage(guard.Page())
	if hp.UpdateValue(slotID, value) {
		guard.MarkDirty()
		guard.Release()
		return ValueID{ContainerID: hf.containerID, PageID: pageID, SlotID: slotID}, nil
	}

	if !hp.DeleteValue(slotID) {
		guard.Release()
		return ValueID{}, ErrSlotNotFound
	}
	guard.MarkDirty()
	guard.Release()

	return hf.AddVal(value)
}

// Iter returns a HeapFileIter starting at the beginning of the container.
func (hf *HeapFile) Iter() *HeapFileIter {
	return &HeapFileIter{hf: hf, pageID: headerPageID + 1, slotID: 0}
}

// IterFrom returns a HeapFileIter starting at slot s of page p, inclusive.
func (hf *HeapFile) IterFrom(pageID PageID, slotID uint16) *HeapFileIter {
	return &HeapFileIter{hf: hf, pageID: pageID, slotID: slotID}
}

// HeapFileIter yields (bytes, ValueId) for every live slot in ascending
// (PageId, SlotId) order. It pins at most one page at a time: each Next
// call re-acquires the current page's read guard and releases it before
// advancing, rather than holding a guard across calls with an unsafe
// lifetime extension.
type HeapFileIter struct {
	hf       *HeapFile
	pageID   PageID
	slotID   uint16
	finished bool
}

// Next returns the next live value and its ValueId, or ok=false once every
// page through the container's current page count has been consumed.
func (it *HeapFileIter) Next() (value []byte, id ValueID, ok bool) {
	if it.finished {
		return nil, ValueID{}, false
	}

	numPages, err := it.hf.NumPages()
	if err != nil {
		it.finished = true
		return nil, ValueID{}, false
	}

	for it.pageID < numPages {
		guard, err := it.hf.pool.GetPageForRead(it.hf.key(it.pageID), -1)
		if err != nil {
			it.finished = true
			return nil, ValueID{}, false
		}
		hp := LoadHeapPage(guard.Page())
		pit := hp.IterFrom(it.slotID)
		v, slot, found := pit.Next()
		guard.Release()

		if found {
			it.slotID = slot + 1
			return v, ValueID{ContainerID: it.hf.containerID, PageID: it.pageID, SlotID: slot}, true
		}

		it.pageID++
		it.slotID = 0
	}

	it.finished = true
	return nil, ValueID{}, false
}
