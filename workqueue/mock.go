package workqueue

import (
	"context"
	"sync"
)

// MockQueue is a configurable mock implementation of Queue for use in tests.
// It allows setting up expected return values, tracking method calls,
// and injecting errors for testing error paths.
type MockQueue struct {
	mu sync.RWMutex

	// ListQueuedFunc is called by ListQueued if set.
	ListQueuedFunc func(ctx context.Context) ([]string, error)

	// AddFunc is called by Add if set.
	AddFunc func(ctx context.Context, key, path string) error

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, key string) (string, bool, error)

	// Call tracking
	ListQueuedCalls int
	AddCalls        []AddCall
	GetCalls        []string
}

// AddCall records the arguments of an Add call.
type AddCall struct {
	Key  string
	Path string
}

// NewMockQueue creates a new MockQueue.
func NewMockQueue() *MockQueue {
	return &MockQueue{}
}

// ListQueued calls ListQueuedFunc if set, otherwise returns no keys.
func (m *MockQueue) ListQueued(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.ListQueuedCalls++
	m.mu.Unlock()

	if m.ListQueuedFunc != nil {
		return m.ListQueuedFunc(ctx)
	}
	return nil, nil
}

// Add calls AddFunc if set, otherwise succeeds.
func (m *MockQueue) Add(ctx context.Context, key, path string) error {
	m.mu.Lock()
	m.AddCalls = append(m.AddCalls, AddCall{Key: key, Path: path})
	m.mu.Unlock()

	if m.AddFunc != nil {
		return m.AddFunc(ctx, key, path)
	}
	return nil
}

// Get calls GetFunc if set, otherwise reports the item as absent.
func (m *MockQueue) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, key)
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return "", false, nil
}

// AddedKeys returns the keys passed to Add, in call order.
func (m *MockQueue) AddedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, len(m.AddCalls))
	for i, c := range m.AddCalls {
		keys[i] = c.Key
	}
	return keys
}

// Reset clears all call tracking.
func (m *MockQueue) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListQueuedCalls = 0
	m.AddCalls = nil
	m.GetCalls = nil
}
