package vm

// Table is an open-addressed hash table with linear probing, mapping
// interned ObjString keys to Values. Key equality is pointer equality,
// which interning makes equivalent to content equality.
//
// Deleted entries leave tombstones (nil key, true value) so probe chains
// stay intact; tombstones count toward load and are discarded on growth.
type Table struct {
	count   int // live entries + tombstones
	entries []tableEntry
}

type tableEntry struct {
	key   *ObjString
	value Value
}

const (
	tableMaxLoad        = 0.75
	tableInitialCapacity = 8
)

// Count returns the number of live entries plus tombstones.
func (t *Table) Count() int { return t.count }

// Capacity returns the current slot count.
func (t *Table) Capacity() int { return len(t.entries) }

// findEntry locates the slot for key: either the entry holding it, the
// first tombstone on its probe chain, or the empty slot that terminates
// the chain. len(entries) must be a power of two and non-zero.
func findEntry(entries []tableEntry, key *ObjString) *tableEntry {
	index := int(key.Hash) & (len(entries) - 1)
	var tombstone *tableEntry
	for {
		entry := &entries[index]
		if entry.key == nil {
			if entry.value.IsNil() {
				// Truly empty; reuse an earlier tombstone if we saw one.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			// Tombstone: remember the first and keep probing.
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.key == key {
			return entry
		}
		index = (index + 1) & (len(entries) - 1)
	}
}

// Get looks up key and reports whether it was present.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if t.count == 0 {
		return Nil, false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return Nil, false
	}
	return entry.value, true
}

// Set stores value under key and returns true if a new entry was created.
func (t *Table) Set(key *ObjString, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}

	entry := findEntry(t.entries, key)
	isNew := entry.key == nil
	// A reused tombstone was already counted.
	if isNew && entry.value.IsNil() {
		t.count++
	}
	entry.key = key
	entry.value = value
	return isNew
}

// Replace stores value under key only if key is already present, and
// reports whether it was. Used for assignment to globals, which must not
// implicitly declare.
func (t *Table) Replace(key *ObjString, value Value) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return false
	}
	entry.value = value
	return true
}

// Delete removes key, leaving a tombstone, and reports whether it was
// present.
func (t *Table) Delete(key *ObjString) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return false
	}
	entry.key = nil
	entry.value = True
	return true
}

// AddAll copies every entry from src into t. Used by class inheritance to
// copy the superclass method table into the subclass.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		entry := &src.entries[i]
		if entry.key != nil {
			t.Set(entry.key, entry.value)
		}
	}
}

// FindKey probes by string content rather than pointer identity. The intern
// set needs this: during interning the candidate ObjString does not exist
// yet.
func (t *Table) FindKey(chars string, hash uint32) *ObjString {
	if t.count == 0 {
		return nil
	}
	index := int(hash) & (len(t.entries) - 1)
	for {
		entry := &t.entries[index]
		if entry.key == nil {
			// An empty non-tombstone slot terminates the chain.
			if entry.value.IsNil() {
				return nil
			}
		} else if entry.key.Hash == hash && entry.key.Chars == chars {
			return entry.key
		}
		index = (index + 1) & (len(t.entries) - 1)
	}
}

// grow doubles capacity (from an initial 8) and rehashes every live entry,
// discarding tombstones.
func (t *Table) grow() {
	capacity := tableInitialCapacity
	if len(t.entries) > 0 {
		capacity = len(t.entries) * 2
	}

	entries := make([]tableEntry, capacity)
	for i := range entries {
		entries[i].value = Nil
	}

	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key == nil {
			continue
		}
		dest := findEntry(entries, entry.key)
		dest.key = entry.key
		dest.value = entry.value
		t.count++
	}
	t.entries = entries
}

// ---------------------------------------------------------------------------
// GC hooks
// ---------------------------------------------------------------------------

// Mark grays every key and value in the table.
func (t *Table) Mark(h *Heap) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key != nil {
			h.MarkObject(&entry.key.Obj)
		}
		h.MarkValue(entry.value)
	}
}

// RemoveUnmarked deletes entries whose key is unmarked. The intern set is
// the only non-owning reference to dead strings; this is the weak-reference
// step that runs after tracing and before sweep.
func (t *Table) RemoveUnmarked() {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key != nil && !entry.key.Marked {
			t.Delete(entry.key)
		}
	}
}
