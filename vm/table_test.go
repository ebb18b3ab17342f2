package vm

import (
	"fmt"
	"testing"
)

func newTestHeap() *Heap {
	return NewHeap(HeapConfig{})
}

func TestTableSetAndGet(t *testing.T) {
	h := newTestHeap()
	var table Table

	key := h.CopyString("answer")
	if isNew := table.Set(key, FromNumber(42)); !isNew {
		t.Error("first Set should report a new entry")
	}
	if isNew := table.Set(key, FromNumber(43)); isNew {
		t.Error("second Set of same key should not be new")
	}

	value, ok := table.Get(key)
	if !ok || value.Number() != 43 {
		t.Errorf("Get = %v, %v; want 43, true", value, ok)
	}
}

func TestTableGetMissing(t *testing.T) {
	h := newTestHeap()
	var table Table

	if _, ok := table.Get(h.CopyString("ghost")); ok {
		t.Error("Get on empty table should miss")
	}

	table.Set(h.CopyString("present"), True)
	if _, ok := table.Get(h.CopyString("ghost")); ok {
		t.Error("Get of absent key should miss")
	}
}

func TestTableReplace(t *testing.T) {
	h := newTestHeap()
	var table Table

	key := h.CopyString("x")
	if table.Replace(key, FromNumber(1)) {
		t.Error("Replace on absent key should fail")
	}
	if _, ok := table.Get(key); ok {
		t.Error("failed Replace must not insert")
	}

	table.Set(key, FromNumber(1))
	if !table.Replace(key, FromNumber(2)) {
		t.Error("Replace on present key should succeed")
	}
	if value, _ := table.Get(key); value.Number() != 2 {
		t.Error("Replace did not update the value")
	}
}

func TestTableDeleteLeavesProbeChainIntact(t *testing.T) {
	h := newTestHeap()
	var table Table

	// Load enough keys that some share probe chains.
	keys := make([]*ObjString, 0, 32)
	for i := 0; i < 32; i++ {
		k := h.CopyString(fmt.Sprintf("key-%d", i))
		keys = append(keys, k)
		table.Set(k, FromNumber(float64(i)))
	}

	// Delete every other key; the rest must stay reachable.
	for i := 0; i < 32; i += 2 {
		if !table.Delete(keys[i]) {
			t.Errorf("Delete(key-%d) reported absent", i)
		}
	}
	for i := 1; i < 32; i += 2 {
		if value, ok := table.Get(keys[i]); !ok || value.Number() != float64(i) {
			t.Errorf("key-%d lost after neighboring deletes", i)
		}
	}
	for i := 0; i < 32; i += 2 {
		if _, ok := table.Get(keys[i]); ok {
			t.Errorf("key-%d still present after delete", i)
		}
	}

	if table.Delete(h.CopyString("never-inserted")) {
		t.Error("Delete of absent key should report false")
	}
}

func TestTableTombstoneReuse(t *testing.T) {
	h := newTestHeap()
	var table Table

	key := h.CopyString("recycled")
	table.Set(key, FromNumber(1))
	table.Delete(key)

	// Re-inserting through a tombstone is a new logical entry.
	if isNew := table.Set(key, FromNumber(2)); !isNew {
		t.Error("insert after delete should be new")
	}
	if value, ok := table.Get(key); !ok || value.Number() != 2 {
		t.Error("tombstone reuse lost the value")
	}
}

func TestTableLoadFactorInvariant(t *testing.T) {
	h := newTestHeap()
	var table Table

	for i := 0; i < 1000; i++ {
		table.Set(h.CopyString(fmt.Sprintf("entry-%d", i)), FromNumber(float64(i)))
		if float64(table.Count()) > float64(table.Capacity())*tableMaxLoad {
			t.Fatalf("after %d inserts: count %d exceeds %g of capacity %d",
				i+1, table.Count(), tableMaxLoad, table.Capacity())
		}
	}
}

func TestTableFindKeyByContent(t *testing.T) {
	h := newTestHeap()
	var table Table

	key := h.CopyString("needle")
	table.Set(key, True)

	found := table.FindKey("needle", hashString("needle"))
	if found != key {
		t.Error("FindKey should locate the entry by content")
	}
	if table.FindKey("missing", hashString("missing")) != nil {
		t.Error("FindKey of absent content should return nil")
	}
}

func TestTableAddAll(t *testing.T) {
	h := newTestHeap()
	var src, dst Table

	for i := 0; i < 10; i++ {
		src.Set(h.CopyString(fmt.Sprintf("m%d", i)), FromNumber(float64(i)))
	}
	dst.Set(h.CopyString("m0"), FromNumber(99)) // will be overwritten

	dst.AddAll(&src)
	for i := 0; i < 10; i++ {
		value, ok := dst.Get(h.CopyString(fmt.Sprintf("m%d", i)))
		if !ok || value.Number() != float64(i) {
			t.Errorf("m%d missing or wrong after AddAll", i)
		}
	}
}

func TestTableGrowDiscardsTombstones(t *testing.T) {
	h := newTestHeap()
	var table Table

	// Fill with deletions interleaved so tombstones accumulate, then force
	// growth and verify the live set survives.
	for i := 0; i < 100; i++ {
		k := h.CopyString(fmt.Sprintf("t%d", i))
		table.Set(k, FromNumber(float64(i)))
		if i%3 == 0 {
			table.Delete(k)
		}
	}
	for i := 0; i < 100; i++ {
		_, ok := table.Get(h.CopyString(fmt.Sprintf("t%d", i)))
		if want := i%3 != 0; ok != want {
			t.Errorf("t%d present=%v, want %v", i, ok, want)
		}
	}
}
