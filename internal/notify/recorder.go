package notify

import (
	"context"
	"sync"

	"github.com/p-blackswan/agrostore/internal/metrics"
)

// DefaultRecorderSize bounds the Recorder queue.
const DefaultRecorderSize = 32

// Recorder queues notifications in memory until the presentation layer
// drains them. When full, the oldest notification is dropped.
type Recorder struct {
	mu      sync.Mutex
	max     int
	items   []Notification
	metrics *metrics.Metrics
}

// NewRecorder creates a recorder holding at most max notifications.
func NewRecorder(max int, m *metrics.Metrics) *Recorder {
	if max < 1 {
		max = DefaultRecorderSize
	}
	return &Recorder{max: max, metrics: m}
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == r.max {
		r.items = r.items[1:]
	}
	r.items = append(r.items, n)
	r.metrics.RecordNotification(string(n.Level), string(n.Kind))
	return nil
}

// Drain returns queued notifications oldest first and empties the queue.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Len returns the number of queued notifications.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
