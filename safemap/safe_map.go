// Package safemap provides a typed concurrent map on top of sync.Map. It is
// used for registries that are filled on first use and read from many
// goroutines: open server connections and memoised Web API handles.
package safemap

import "sync"

// SafeMap is a concurrent map with typed keys and values. The zero value is
// ready to use. A SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty map.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any previous one.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for k. The zero V and false are returned when k is
// absent.
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, ok := m.m.Load(k)
	if !ok {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// LoadOrStore returns the value already stored for k, or stores and returns
// v. loaded reports which happened. Of several concurrent callers for one
// key exactly one stores; the rest get its value.
//
// Parameters:
//   - k: The key to look up
//   - v: The value to store when k is absent
//
// Returns:
//   - actual: The value now held for k
//   - loaded: true if actual was already present
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(k, v)
	return a.(V), loaded
}

// Delete removes k. Deleting an absent key does nothing.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Has reports whether k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, ok := m.m.Load(k)
	return ok
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted while Range runs may or may not be visited.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len counts the entries. It walks the whole map.
func (m *SafeMap[K, V]) Len() int {
	n := 0
	m.Range(func(K, V) bool {
		n++
		return true
	})

	return n
}
