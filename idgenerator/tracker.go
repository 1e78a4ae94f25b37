package idgenerator

import (
	"slices"
	"sync"
)

// Tracker records the packet IDs a session has allocated. It is a
// diagnostics aid only and is never consulted on the read path.
//
// Entries are keyed solely by packet ID: two distinct packets that share an
// ID occupy a single entry, and the later one is not distinguishable from the
// earlier. This mirrors how request/response pairs are correlated on the
// wire, where the ID is the only identity a packet has.
type Tracker struct {
	m map[int32]struct{}
	sync.RWMutex
}

// NewTracker creates and returns a new empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{m: make(map[int32]struct{})}
}

// Add records id. Adding an ID that is already present is a no-op.
//
// Parameters:
//   - id: The packet ID to record
//
// Returns:
//   - true if id was not tracked before this call
func (t *Tracker) Add(id int32) bool {
	t.Lock()
	defer t.Unlock()
	if _, ok := t.m[id]; ok {
		return false
	}

	t.m[id] = struct{}{}
	return true
}

// Remove forgets id.
func (t *Tracker) Remove(id int32) {
	t.Lock()
	defer t.Unlock()
	delete(t.m, id)
}

// Contains reports whether id has been recorded.
func (t *Tracker) Contains(id int32) bool {
	t.RLock()
	defer t.RUnlock()
	_, ok := t.m[id]
	return ok
}

// Size returns the number of distinct IDs recorded.
func (t *Tracker) Size() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.m)
}

// IDs returns the recorded IDs in ascending order.
func (t *Tracker) IDs() []int32 {
	t.RLock()
	ids := make([]int32, 0, len(t.m))
	for id := range t.m {
		ids = append(ids, id)
	}
	t.RUnlock()

	slices.Sort(ids)
	return ids
}

// Reset forgets every recorded ID.
func (t *Tracker) Reset() {
	t.Lock()
	defer t.Unlock()
	t.m = make(map[int32]struct{})
}
