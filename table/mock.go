package table

import (
	"context"
	"sync"
)

// MockService is a configurable mock implementation of Service for use in tests.
// It allows setting up return values, tracking method calls, and injecting errors.
type MockService struct {
	mu sync.RWMutex

	// ExistsFunc is called by Exists if set.
	ExistsFunc func(ctx context.Context, table string) (bool, error)

	// CreateFunc is called by Create if set.
	CreateFunc func(ctx context.Context, table string) error

	// ScanFunc is called by Scan if set.
	ScanFunc func(ctx context.Context, table string, opts ScanOptions) (Scanner, error)

	// NewBatchWriterFunc is called by NewBatchWriter if set.
	NewBatchWriterFunc func(ctx context.Context, table string) (BatchWriter, error)

	// Call tracking
	ExistsCalls         []string
	CreateCalls         []string
	ScanCalls           []ScanCall
	NewBatchWriterCalls []string
}

// ScanCall records the arguments of a Scan call.
type ScanCall struct {
	Table   string
	Options ScanOptions
}

// NewMockService creates a new mock table service.
func NewMockService() *MockService {
	return &MockService{}
}

// Exists implements Service.
func (m *MockService) Exists(ctx context.Context, table string) (bool, error) {
	m.mu.Lock()
	m.ExistsCalls = append(m.ExistsCalls, table)
	m.mu.Unlock()

	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, table)
	}
	return false, nil
}

// Create implements Service.
func (m *MockService) Create(ctx context.Context, table string) error {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, table)
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, table)
	}
	return nil
}

// Scan implements Service.
func (m *MockService) Scan(ctx context.Context, table string, opts ScanOptions) (Scanner, error) {
	m.mu.Lock()
	m.ScanCalls = append(m.ScanCalls, ScanCall{Table: table, Options: opts})
	m.mu.Unlock()

	if m.ScanFunc != nil {
		return m.ScanFunc(ctx, table, opts)
	}
	return NewSliceScanner(nil), nil
}

// NewBatchWriter implements Service.
func (m *MockService) NewBatchWriter(ctx context.Context, table string) (BatchWriter, error) {
	m.mu.Lock()
	m.NewBatchWriterCalls = append(m.NewBatchWriterCalls, table)
	m.mu.Unlock()

	if m.NewBatchWriterFunc != nil {
		return m.NewBatchWriterFunc(ctx, table)
	}
	return NewMockBatchWriter(), nil
}

// MockBatchWriter is a configurable mock implementation of BatchWriter.
type MockBatchWriter struct {
	mu sync.Mutex

	// AddMutationFunc is called by AddMutation if set.
	AddMutationFunc func(ctx context.Context, m *Mutation) error

	// FlushFunc is called by Flush if set.
	FlushFunc func(ctx context.Context) error

	// Call tracking
	Mutations  []*Mutation
	FlushCalls int
	CloseCalls int
}

// NewMockBatchWriter creates a new mock batch writer.
func NewMockBatchWriter() *MockBatchWriter {
	return &MockBatchWriter{}
}

// AddMutation implements BatchWriter.
func (w *MockBatchWriter) AddMutation(ctx context.Context, m *Mutation) error {
	w.mu.Lock()
	w.Mutations = append(w.Mutations, m)
	w.mu.Unlock()

	if w.AddMutationFunc != nil {
		return w.AddMutationFunc(ctx, m)
	}
	return nil
}

// Flush implements BatchWriter.
func (w *MockBatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	w.FlushCalls++
	w.mu.Unlock()

	if w.FlushFunc != nil {
		return w.FlushFunc(ctx)
	}
	return nil
}

// Close implements BatchWriter.
func (w *MockBatchWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	w.CloseCalls++
	w.mu.Unlock()
	return nil
}
