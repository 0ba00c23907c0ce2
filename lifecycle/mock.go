package lifecycle

import (
	"context"
	"sync"
)

// MockElector is a mock implementation of Elector for testing.
// Campaigns pop results from Results; once it is empty they win with a new MockTerm.
type MockElector struct {
	mu sync.Mutex

	// CampaignFunc overrides the queued results when set.
	CampaignFunc func(ctx context.Context) (Term, error)

	// Results are returned by successive campaigns.
	Results []CampaignResult

	// Track calls for verification
	CampaignCalls int
	Terms         []*MockTerm
}

// CampaignResult is one queued campaign outcome.
type CampaignResult struct {
	Term Term
	Err  error
}

// NewMockElector creates a new MockElector.
func NewMockElector(results ...CampaignResult) *MockElector {
	return &MockElector{Results: results}
}

// Campaign implements Elector.
func (m *MockElector) Campaign(ctx context.Context) (Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CampaignCalls++
	if m.CampaignFunc != nil {
		return m.CampaignFunc(ctx)
	}
	if len(m.Results) > 0 {
		r := m.Results[0]
		m.Results = m.Results[1:]
		return r.Term, r.Err
	}

	term := NewMockTerm()
	m.Terms = append(m.Terms, term)
	return term, nil
}

// MockTerm is a mock implementation of Term for testing.
type MockTerm struct {
	mu       sync.Mutex
	done     chan struct{}
	resigned int
	lost     bool

	// ResignErr is returned by Resign.
	ResignErr error
}

// NewMockTerm creates a term that lasts until Lose or Resign is called.
func NewMockTerm() *MockTerm {
	return &MockTerm{done: make(chan struct{})}
}

// IsCoordinator implements Term.
func (t *MockTerm) IsCoordinator(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.lost
}

// Done implements Term.
func (t *MockTerm) Done() <-chan struct{} {
	return t.done
}

// Resign implements Term.
func (t *MockTerm) Resign(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resigned++
	t.end()
	return t.ResignErr
}

// Lose ends the term as if the lease expired.
func (t *MockTerm) Lose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.end()
}

// ResignCalls returns how often Resign was called.
func (t *MockTerm) ResignCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resigned
}

func (t *MockTerm) end() {
	if !t.lost {
		t.lost = true
		close(t.done)
	}
}
