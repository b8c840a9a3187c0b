package storage

import (
	"bytes"
	"testing"
)

func TestHeapPageAddGetValue(t *testing.T) {
	hp := InitHeapPage(NewPage(1))

	slot, ok := hp.AddValue([]byte("abc"))
	if !ok {
		t.Fatal("AddValue failed unexpectedly")
	}
	if slot != 0 {
		t.Fatalf("expected slot 0, got %d", slot)
	}

	v, ok := hp.GetValue(slot)
	if !ok || !bytes.Equal(v, []byte("abc")) {
		t.Fatalf("GetValue returned %q, %v", v, ok)
	}
}

func TestHeapPageZeroLengthValue(t *testing.T) {
	hp := InitHeapPage(NewPage(1))

	slot, ok := hp.AddValue(nil)
	if !ok {
		t.Fatal("AddValue of empty value should succeed")
	}
	v, ok := hp.GetValue(slot)
	if !ok || len(v) != 0 {
		t.Fatalf("expected empty live value, got %v ok=%v", v, ok)
	}
}

func TestHeapPageDeleteAndSlotReuse(t *testing.T) {
	hp := InitHeapPage(NewPage(1))

	s0, _ := hp.AddValue([]byte("one"))
	s1, _ := hp.AddValue([]byte("two"))

	if !hp.DeleteValue(s0) {
		t.Fatal("DeleteValue(s0) failed")
	}
	if _, ok := hp.GetValue(s0); ok {
		t.Fatal("expected deleted slot to read back as absent")
	}

	s2, ok := hp.AddValue([]byte("three"))
	if !ok {
		t.Fatal("AddValue after delete failed")
	}
	if s2 != s0 {
		t.Fatalf("expected reused lowest free slot %d, got %d", s0, s2)
	}
	if s1 == s2 {
		t.Fatalf("slot ids must be distinct: s1=%d s2=%d", s1, s2)
	}
}

func TestHeapPageUpdateInPlace(t *testing.T) {
	hp := InitHeapPage(NewPage(1))
	slot, _ := hp.AddValue([]byte("hello"))

	if !hp.UpdateValue(slot, []byte("hi")) {
		t.Fatal("shrinking update should succeed in place")
	}
	v, ok := hp.GetValue(slot)
	if !ok || string(v) != "hi" {
		t.Fatalf("expected 'hi', got %q", v)
	}
}

func TestHeapPageUpdateTooLargeReturnsFalseUnchanged(t *testing.T) {
	hp := InitHeapPage(NewPage(1))
	slot, _ := hp.AddValue([]byte("abc"))

	huge := make([]byte, HeapPageBodySize+1)
	if hp.UpdateValue(slot, huge) {
		t.Fatal("update with an oversized value must fail")
	}

	v, ok := hp.GetValue(slot)
	if !ok || string(v) != "abc" {
		t.Fatalf("page must be unchanged after a failed update, got %q ok=%v", v, ok)
	}
}

func TestHeapPageIterAscendingOrderSkipsDeleted(t *testing.T) {
	hp := InitHeapPage(NewPage(1))
	s0, _ := hp.AddValue([]byte("a"))
	_, _ = hp.AddValue([]byte("b"))
	s2, _ := hp.AddValue([]byte("c"))

	hp.DeleteValue(s0)

	it := hp.Iter()
	var gotSlots []uint16
	var gotValues []string
	for {
		v, slot, ok := it.Next()
		if !ok {
			break
		}
		gotSlots = append(gotSlots, slot)
		gotValues = append(gotValues, string(v))
	}

	if len(gotSlots) != 2 || gotSlots[0] != 1 || gotSlots[1] != s2 {
		t.Fatalf("expected ascending slots [1 %d], got %v", s2, gotSlots)
	}
	if gotValues[0] != "b" || gotValues[1] != "c" {
		t.Fatalf("unexpected iteration values: %v", gotValues)
	}
}

func TestHeapPageFreeSpaceNeverExceedsPhysical(t *testing.T) {
	hp := InitHeapPage(NewPage(1))
	if hp.GetFreeSpace() > HeapPageBodySize {
		t.Fatalf("free space %d exceeds body size %d", hp.GetFreeSpace(), HeapPageBodySize)
	}

	for i := 0; i < 10; i++ {
		hp.AddValue(bytes.Repeat([]byte{byte(i)}, 50))
	}
	if hp.GetFreeSpace() > HeapPageBodySize {
		t.Fatalf("free space %d exceeds body size %d after inserts", hp.GetFreeSpace(), HeapPageBodySize)
	}
}

func TestHeapPageLoadRoundTrip(t *testing.T) {
	raw := NewPage(3)
	hp := InitHeapPage(raw)
	hp.AddValue([]byte("persisted"))

	loaded := LoadHeapPage(raw)
	v, ok := loaded.GetValue(0)
	if !ok || string(v) != "persisted" {
		t.Fatalf("expected value to survive reload, got %q ok=%v", v, ok)
	}
}
