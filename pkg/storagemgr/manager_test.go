package storagemgr

import (
	"bytes"
	"testing"

	"github.com/oakdb/heapstore/pkg/storage"
)

func newTestManager(t *testing.T) *StorageManager {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	sm, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sm
}

func TestStorageManagerCreateInsertGetUpdateDelete(t *testing.T) {
	sm := newTestManager(t)

	if err := sm.CreateTable(1); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	ids, err := sm.InsertValues(1, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}, 0)
	if err != nil {
		t.Fatalf("InsertValues: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	v, err := sm.GetValue(ids[1], 0, ReadOnly)
	if err != nil || string(v) != "bb" {
		t.Fatalf("GetValue: %q, %v", v, err)
	}

	newID, err := sm.UpdateValue([]byte("b"), ids[1], 0)
	if err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	v, err = sm.GetValue(newID, 0, ReadOnly)
	if err != nil || string(v) != "b" {
		t.Fatalf("GetValue after update: %q, %v", v, err)
	}

	if err := sm.DeleteValue(ids[0], 0); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if _, err := sm.GetValue(ids[0], 0, ReadOnly); err == nil {
		t.Fatal("expected error reading a deleted value")
	}
}

func TestStorageManagerGetIteratorYieldsLiveValues(t *testing.T) {
	sm := newTestManager(t)
	if err := sm.CreateTable(1); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	want := [][]byte{[]byte("x"), []byte("y"), []byte("z")}
	if _, err := sm.InsertValues(1, want, 0); err != nil {
		t.Fatalf("InsertValues: %v", err)
	}

	it, err := sm.GetIterator(1, 0, ReadOnly)
	if err != nil {
		t.Fatalf("GetIterator: %v", err)
	}

	var got [][]byte
	for {
		v, _, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("value %d mismatch: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestStorageManagerUnknownContainerIsCrustyError(t *testing.T) {
	sm := newTestManager(t)
	_, err := sm.GetValue(storage.ValueID{ContainerID: 99}, 0, ReadOnly)
	if err == nil {
		t.Fatal("expected error for an unregistered container")
	}
	var ce *storage.CrustyError
	if !asCrustyError(err, &ce) {
		t.Fatalf("expected a *storage.CrustyError, got %T: %v", err, err)
	}
}

func asCrustyError(err error, target **storage.CrustyError) bool {
	ce, ok := err.(*storage.CrustyError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func TestStorageManagerResetForgetsContainers(t *testing.T) {
	sm := newTestManager(t)
	if err := sm.CreateTable(1); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := sm.InsertValues(1, [][]byte{[]byte("v")}, 0); err != nil {
		t.Fatalf("InsertValues: %v", err)
	}
	if err := sm.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := sm.GetIterator(1, 0, ReadOnly); err == nil {
		t.Fatal("expected error iterating a container forgotten by Reset")
	}
}
