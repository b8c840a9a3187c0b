// Package storagemgr sketches the external surface the heap store exports
// upward: a container registry plus value-level operations threaded
// through an opaque transaction id. SQL parsing, query execution, the
// real transaction manager, and the index manager are all collaborators
// outside this package's walls; it only defines the shape of the calls
// they make into the physical layer.
package storagemgr

import (
	"fmt"
	"sync"

	"github.com/oakdb/heapstore/pkg/storage"
)

// TransactionId is opaque to the storage layer; it is threaded through
// uninterpreted.
type TransactionId uint64

// Permissions distinguishes a read-only access from one that may write.
type Permissions uint8

const (
	ReadOnly Permissions = iota
	ReadWrite
)

// Config configures a StorageManager.
type Config struct {
	DataDir        string
	BufferPoolSize int
	DirectIO       bool
}

// DefaultConfig returns sensible defaults: the default buffer pool
// capacity, direct I/O disabled (not every filesystem supports it).
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BufferPoolSize: storage.DefaultBufferPoolFrames,
		DirectIO:       false,
	}
}

// StorageManager is the container registry and external surface described
// by spec section 6: create_table, insert_values, get_value, update_value,
// delete_value, get_iterator, shutdown, reset.
type StorageManager struct {
	mu       sync.RWMutex
	cfg      *Config
	pool     *storage.BufferPool
	heapFile map[storage.ContainerID]*storage.HeapFile
}

// New constructs a StorageManager backed by a disk-resident BufferPool
// rooted at cfg.DataDir.
func New(cfg *Config) (*StorageManager, error) {
	pool := storage.NewBufferPool(cfg.DataDir, cfg.BufferPoolSize, cfg.DirectIO, nil)
	return &StorageManager{
		cfg:      cfg,
		pool:     pool,
		heapFile: make(map[storage.ContainerID]*storage.HeapFile),
	}, nil
}

// CreateTable registers a new container and reserves its header page.
func (sm *StorageManager) CreateTable(cID storage.ContainerID) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.heapFile[cID]; exists {
		return storage.NewCrustyError(fmt.Sprintf("container %d already exists", cID), nil)
	}
	hf, err := storage.NewHeapFile(cID, sm.pool)
	if err != nil {
		return storage.NewCrustyError("create table", err)
	}
	sm.heapFile[cID] = hf
	return nil
}

func (sm *StorageManager) heapFileFor(cID storage.ContainerID) (*storage.HeapFile, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	hf, ok := sm.heapFile[cID]
	if !ok {
		return nil, fmt.Errorf("%w: container %d", storage.ErrContainerNotFound, cID)
	}
	return hf, nil
}

// InsertValues inserts each value in values into cID and returns the
// ValueId assigned to each, in order. tid is accepted but currently
// ignored by the physical layer.
func (sm *StorageManager) InsertValues(cID storage.ContainerID, values [][]byte, _ TransactionId) ([]storage.ValueID, error) {
	hf, err := sm.heapFileFor(cID)
	if err != nil {
		return nil, storage.NewCrustyError("insert values", err)
	}
	ids, err := hf.AddVals(values)
	if err != nil {
		return ids, storage.NewCrustyError("insert values", err)
	}
	return ids, nil
}

// GetValue returns the bytes stored at id. perm is accepted for interface
// compatibility; the physical layer does not enforce access control.
func (sm *StorageManager) GetValue(id storage.ValueID, _ TransactionId, _ Permissions) ([]byte, error) {
	hf, err := sm.heapFileFor(id.ContainerID)
	if err != nil {
		return nil, storage.NewCrustyError("get value", err)
	}
	v, err := hf.GetVal(id.PageID, id.SlotID)
	if err != nil {
		return nil, storage.NewCrustyError("get value", err)
	}
	return v, nil
}

// UpdateValue replaces the bytes at id, returning the (possibly relocated)
// new ValueId.
func (sm *StorageManager) UpdateValue(value []byte, id storage.ValueID, _ TransactionId) (storage.ValueID, error) {
	hf, err := sm.heapFileFor(id.ContainerID)
	if err != nil {
		return storage.ValueID{}, storage.NewCrustyError("update value", err)
	}
	newID, err := hf.UpdateVal(id.PageID, id.SlotID, value)
	if err != nil {
		return storage.ValueID{}, storage.NewCrustyError("update value", err)
	}
	return newID, nil
}

// DeleteValue removes the value at id.
func (sm *StorageManager) DeleteValue(id storage.ValueID, _ TransactionId) error {
	hf, err := sm.heapFileFor(id.ContainerID)
	if err != nil {
		return storage.NewCrustyError("delete value", err)
	}
	if err := hf.DeleteVal(id.PageID, id.SlotID); err != nil {
		return storage.NewCrustyError("delete value", err)
	}
	return nil
}

// GetIterator returns a HeapFileIter over every live value in cID, in
// ascending (PageId, SlotId) order. perm is accepted for interface
// compatibility.
func (sm *StorageManager) GetIterator(cID storage.ContainerID, _ TransactionId, _ Permissions) (*storage.HeapFileIter, error) {
	hf, err := sm.heapFileFor(cID)
	if err != nil {
		return nil, storage.NewCrustyError("get iterator", err)
	}
	return hf.Iter(), nil
}

// Stats returns the underlying buffer pool's counters.
func (sm *StorageManager) Stats() storage.PoolStats {
	return sm.pool.Stats()
}

// Shutdown flushes every dirty page and closes all open container files.
func (sm *StorageManager) Shutdown() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.pool.Close(); err != nil {
		return storage.NewCrustyError("shutdown", err)
	}
	return nil
}

// Reset forgets every container and frame, discarding unflushed state.
func (sm *StorageManager) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.pool.Reset(); err != nil {
		return storage.NewCrustyError("reset", err)
	}
	sm.heapFile = make(map[storage.ContainerID]*storage.HeapFile)
	return nil
}
