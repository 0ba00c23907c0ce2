// Package memory provides an in-memory work queue for tests and single-process setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/getpup/pupsourcing-replication/workqueue"
)

// Queue is an in-memory implementation of workqueue.Queue and workqueue.Consumer.
type Queue struct {
	mu    sync.RWMutex
	items map[string]string // key -> path
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		items: make(map[string]string),
	}
}

// ListQueued returns the queued keys in sorted order.
func (q *Queue) ListQueued(ctx context.Context) ([]string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	keys := make([]string, 0, len(q.items))
	for k := range q.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Add enqueues an item.
func (q *Queue) Add(ctx context.Context, key, path string) error {
	if err := workqueue.ValidateKey(key); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items[key] = path
	return nil
}

// Get returns the payload of a queued item.
func (q *Queue) Get(ctx context.Context, key string) (string, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	path, ok := q.items[key]
	return path, ok, nil
}

// Finish removes an item.
func (q *Queue) Finish(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, key)
	return nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.items)
}
