package util

import (
	"slices"
	"sync"
)

// SortedMap is a keyed collection that keeps its values ordered by a
// comparator. Lookups go through a key index; every mutation re-sorts and
// rebuilds the index. It is safe for concurrent use.
type SortedMap[K comparable, V any] struct {
	mu    sync.RWMutex
	items []V
	index map[K]int
	key   func(V) K
	cmp   func(a, b V) int
}

// NewSortedMap creates an empty map. key extracts the identity of a value and
// cmp orders two values (negative when a sorts first).
func NewSortedMap[K comparable, V any](key func(V) K, cmp func(a, b V) int) *SortedMap[K, V] {
	return &SortedMap[K, V]{
		index: make(map[K]int),
		key:   key,
		cmp:   cmp,
	}
}

// Upsert inserts v, replacing any value with the same key.
func (m *SortedMap[K, V]) Upsert(v V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.index[m.key(v)]; ok {
		m.items[i] = v
	} else {
		m.items = append(m.items, v)
	}
	m.reindex()
}

// Remove deletes the value stored under k and reports whether it existed.
func (m *SortedMap[K, V]) Remove(k K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[k]
	if !ok {
		return false
	}
	m.items = slices.Delete(m.items, i, i+1)
	m.reindex()
	return true
}

// Get returns the value stored under k.
func (m *SortedMap[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	return m.items[i], true
}

// All returns a snapshot of the values in sorted order.
func (m *SortedMap[K, V]) All() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items)
}

func (m *SortedMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// reindex must be called with mu held.
func (m *SortedMap[K, V]) reindex() {
	slices.SortStableFunc(m.items, m.cmp)
	clear(m.index)
	for i, v := range m.items {
		m.index[m.key(v)] = i
	}
}
