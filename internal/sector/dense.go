package sector

import "gridlock/server/internal/keyed"

// Dense is a flat-array map over every cell of one grid, for id spaces
// where most cells carry a value. Lookup is an O(1) index; iteration is
// row-major, matching ID ordering. It satisfies the same contract as the
// sparse sorted map, so populations can pick storage by occupancy.
type Dense[V any] struct {
	grid    Grid
	values  []V
	present []bool
	count   int
}

var _ keyed.Map[ID, *struct{}] = (*Dense[*struct{}])(nil)

// NewDense constructs an empty dense map over grid.
func NewDense[V any](grid Grid) *Dense[V] {
	return &Dense[V]{
		grid:    grid,
		values:  make([]V, grid.Cells()),
		present: make([]bool, grid.Cells()),
	}
}

// Grid returns the partition this map covers.
func (m *Dense[V]) Grid() Grid { return m.grid }

// Get returns the value stored for id.
func (m *Dense[V]) Get(id ID) (V, bool) {
	if !m.grid.Contains(id) {
		var zero V
		return zero, false
	}
	idx := m.grid.Index(id)
	if !m.present[idx] {
		var zero V
		return zero, false
	}
	return m.values[idx], true
}

// Set stores value under id. Ids outside the grid are ignored.
func (m *Dense[V]) Set(id ID, value V) {
	if !m.grid.Contains(id) {
		return
	}
	idx := m.grid.Index(id)
	if !m.present[idx] {
		m.present[idx] = true
		m.count++
	}
	m.values[idx] = value
}

// Delete removes the value stored for id and reports whether one existed.
func (m *Dense[V]) Delete(id ID) bool {
	if !m.grid.Contains(id) {
		return false
	}
	idx := m.grid.Index(id)
	if !m.present[idx] {
		return false
	}
	var zero V
	m.values[idx] = zero
	m.present[idx] = false
	m.count--
	return true
}

// Len reports the number of occupied cells.
func (m *Dense[V]) Len() int { return m.count }

// Ascend visits occupied cells in ascending id order until fn returns
// false.
func (m *Dense[V]) Ascend(fn func(id ID, value V) bool) {
	for idx, ok := range m.present {
		if !ok {
			continue
		}
		id := ID{Col: idx % m.grid.Cols, Row: idx / m.grid.Cols}
		if !fn(id, m.values[idx]) {
			return
		}
	}
}

// Sparse constructs an ordered sparse map keyed by cell id, for id spaces
// where most cells are empty.
func Sparse[V any]() *keyed.Sorted[ID, V] {
	return keyed.NewSorted[ID, V]()
}
