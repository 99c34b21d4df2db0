// Package optimistic holds client-side copies of server state that update
// immediately on user action and are reconciled with, or rolled back to,
// what the server confirms.
//
// Each mutation gets a monotonic sequence number. The displayed value is the
// newest still-pending optimistic value, or the last confirmed server value
// when nothing is pending. A failed mutation therefore never clobbers a newer
// in-flight one, and rollback always lands on a confirmed value.
package optimistic

import (
	"context"
	"sync"

	"github.com/p-blackswan/agrostore/internal/metrics"
)

type mutation[V any] struct {
	seq   uint64
	value V
}

// Value is a single optimistically-updated entity.
type Value[V any] struct {
	mu           sync.Mutex
	confirmed    V
	confirmedSeq uint64
	seq          uint64
	pending      []mutation[V] // ascending seq
	listeners    []func(V)

	name    string
	metrics *metrics.Metrics
}

// NewValue creates a Value whose confirmed state is initial. name labels
// metrics ("cart", "favorites").
func NewValue[V any](name string, initial V, m *metrics.Metrics) *Value[V] {
	return &Value[V]{name: name, confirmed: initial, metrics: m}
}

// Get returns the displayed value.
func (v *Value[V]) Get() V {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.displayLocked()
}

// Confirmed returns the last value the server confirmed.
func (v *Value[V]) Confirmed() V {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.confirmed
}

// Pending returns the number of unsettled mutations.
func (v *Value[V]) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// OnChange registers fn to be called with the displayed value after every change.
func (v *Value[V]) OnChange(fn func(V)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// Set replaces the confirmed value with one freshly read from the server.
// Responses of mutations issued before this call are ignored when they land.
func (v *Value[V]) Set(server V) {
	v.mu.Lock()
	v.confirmed = server
	v.confirmedSeq = v.seq
	shown := v.displayLocked()
	listeners := v.listeners
	v.mu.Unlock()
	notify(listeners, shown)
}

// Mutate shows next(displayed) immediately, then runs call. On success the
// server's value becomes confirmed; on failure the mutation is dropped. The
// displayed value is recomputed in both cases. Returns call's result.
func (v *Value[V]) Mutate(ctx context.Context, next func(current V) V, call func(ctx context.Context) (V, error)) (V, error) {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	v.pending = append(v.pending, mutation[V]{seq: seq, value: next(v.displayLocked())})
	shown := v.displayLocked()
	listeners := v.listeners
	v.mu.Unlock()
	notify(listeners, shown)

	server, err := call(ctx)

	v.mu.Lock()
	v.removeLocked(seq)
	if err == nil && seq > v.confirmedSeq {
		v.confirmed = server
		v.confirmedSeq = seq
	}
	shown = v.displayLocked()
	listeners = v.listeners
	v.mu.Unlock()
	notify(listeners, shown)

	if err != nil {
		v.metrics.RecordMutation(v.name, "rolled_back")
		var zero V
		return zero, err
	}
	v.metrics.RecordMutation(v.name, "confirmed")
	return server, nil
}

func (v *Value[V]) displayLocked() V {
	if n := len(v.pending); n > 0 {
		return v.pending[n-1].value
	}
	return v.confirmed
}

func (v *Value[V]) removeLocked(seq uint64) {
	for i, m := range v.pending {
		if m.seq == seq {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

func notify[V any](listeners []func(V), value V) {
	for _, fn := range listeners {
		fn(value)
	}
}
