// Package keyed provides the keyed-collection contract shared by world
// storage, per-client knowledge, and spatial maps. Implementations differ in
// density: a dense map backs id spaces where every id is present, a sparse
// map backs mostly-absent id spaces, and both iterate in ascending key order
// because iteration order is part of the replication checksum protocol.
package keyed

// Key is the contract actor ids satisfy: comparable identity plus a total
// order used for deterministic iteration.
type Key[K any] interface {
	comparable
	Less(K) bool
}

// Map is the uniform contract over dense, sparse, and ordered collections.
type Map[K Key[K], V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K) bool
	Len() int
	// Ascend visits entries in ascending key order until the callback
	// returns false.
	Ascend(fn func(key K, value V) bool)
}

// Sorted is a sparse ordered map backed by a sorted slice. Lookups use
// binary search; iteration is ascending by construction.
type Sorted[K Key[K], V any] struct {
	keys   []K
	values []V
}

// NewSorted constructs an empty sorted map.
func NewSorted[K Key[K], V any]() *Sorted[K, V] {
	return &Sorted[K, V]{}
}

// search returns the insertion index for key and whether it is present.
func (m *Sorted[K, V]) search(key K) (int, bool) {
	lo, hi := 0, len(m.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.keys[mid].Less(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.keys) && m.keys[lo] == key {
		return lo, true
	}
	return lo, false
}

// Get returns the value stored for key.
func (m *Sorted[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	if idx, ok := m.search(key); ok {
		return m.values[idx], true
	}
	var zero V
	return zero, false
}

// Set inserts or replaces the value stored for key.
func (m *Sorted[K, V]) Set(key K, value V) {
	idx, ok := m.search(key)
	if ok {
		m.values[idx] = value
		return
	}
	m.keys = append(m.keys, key)
	copy(m.keys[idx+1:], m.keys[idx:])
	m.keys[idx] = key
	var zero V
	m.values = append(m.values, zero)
	copy(m.values[idx+1:], m.values[idx:])
	m.values[idx] = value
}

// Delete removes key and reports whether it was present.
func (m *Sorted[K, V]) Delete(key K) bool {
	idx, ok := m.search(key)
	if !ok {
		return false
	}
	m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	m.values = append(m.values[:idx], m.values[idx+1:]...)
	return true
}

// Len reports the number of stored entries.
func (m *Sorted[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Ascend visits entries in ascending key order until fn returns false.
func (m *Sorted[K, V]) Ascend(fn func(key K, value V) bool) {
	if m == nil {
		return
	}
	for i := range m.keys {
		if !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

// Keys returns the stored keys in ascending order.
func (m *Sorted[K, V]) Keys() []K {
	if m == nil || len(m.keys) == 0 {
		return nil
	}
	return append([]K(nil), m.keys...)
}

// Clone copies the map, duplicating each value through the provided clone
// function. Passing nil copies values as-is.
func (m *Sorted[K, V]) Clone(clone func(V) V) *Sorted[K, V] {
	if m == nil {
		return nil
	}
	out := &Sorted[K, V]{
		keys:   append([]K(nil), m.keys...),
		values: make([]V, len(m.values)),
	}
	for i, value := range m.values {
		if clone != nil {
			out.values[i] = clone(value)
		} else {
			out.values[i] = value
		}
	}
	return out
}
