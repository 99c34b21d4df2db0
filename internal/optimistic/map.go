package optimistic

import (
	"context"
	"sync"

	"github.com/p-blackswan/agrostore/internal/metrics"
)

// Map holds one Value per key, created lazily on first use.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*Value[V]
	name    string
	metrics *metrics.Metrics
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any](name string, m *metrics.Metrics) *Map[K, V] {
	return &Map[K, V]{entries: make(map[K]*Value[V]), name: name, metrics: m}
}

// Lookup returns the displayed value for key and whether an entry exists.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}
	return e.Get(), true
}

// Entry returns the Value for key, creating it with the zero value.
func (m *Map[K, V]) Entry(key K) *Value[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		var zero V
		e = NewValue[V](m.name, zero, m.metrics)
		m.entries[key] = e
	}
	return e
}

// Set records a server-read value for key.
func (m *Map[K, V]) Set(key K, server V) {
	m.Entry(key).Set(server)
}

// Mutate runs an optimistic mutation on key's entry.
func (m *Map[K, V]) Mutate(ctx context.Context, key K, next func(V) V, call func(context.Context) (V, error)) (V, error) {
	return m.Entry(key).Mutate(ctx, next, call)
}

// Snapshot returns the displayed value of every entry.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.Lock()
	entries := make(map[K]*Value[V], len(m.entries))
	for k, e := range m.entries {
		entries[k] = e
	}
	m.mu.Unlock()

	out := make(map[K]V, len(entries))
	for k, e := range entries {
		out[k] = e.Get()
	}
	return out
}

// Pending returns the unsettled mutations on key without creating an entry.
func (m *Map[K, V]) Pending(key K) int {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return e.Pending()
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reset drops all entries.
func (m *Map[K, V]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[K]*Value[V])
}
