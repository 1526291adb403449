// Package selector computes derived values from the state document. Every selector is pure and
// memoized on the comparable inputs it declares, so repeated reads with unchanged inputs return the
// cached value itself rather than a fresh copy.
package selector

import "sync"

// Memo caches the last value computed for a key.
type Memo[K comparable, V any] struct {
	mu           sync.Mutex
	valid        bool
	key          K
	value        V
	computations int
}

// Get returns the cached value when key matches the previous call, otherwise it computes and caches.
func (m *Memo[K, V]) Get(key K, compute func(K) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid && m.key == key {
		return m.value
	}
	m.value = compute(key)
	m.key = key
	m.valid = true
	m.computations++
	return m.value
}

// Computations returns how many times compute has run.
func (m *Memo[K, V]) Computations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computations
}

// Reset drops the cached value.
func (m *Memo[K, V]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero V
	m.valid = false
	m.value = zero
}
