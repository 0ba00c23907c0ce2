package table

import (
	"context"
	"sync"
)

// SliceScanner is a Scanner over an in-memory list of entries.
// The memory Service returns it, and tests use it to script scans.
type SliceScanner struct {
	mu       sync.Mutex
	entries  []Entry
	pos      int
	current  Entry
	failWith error
	err      error
	closed   bool
	consumed int
}

// NewSliceScanner creates a scanner returning entries in order.
func NewSliceScanner(entries []Entry) *SliceScanner {
	return &SliceScanner{entries: entries}
}

// FailAfterEntries makes the scanner stop with err once every entry has been returned.
func (s *SliceScanner) FailAfterEntries(err error) *SliceScanner {
	s.failWith = err
	return s
}

// Next implements Scanner.
func (s *SliceScanner) Next(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos >= len(s.entries) {
		s.err = s.failWith
		return false
	}

	s.current = s.entries[s.pos]
	s.pos++
	s.consumed++
	return true
}

// Entry implements Scanner.
func (s *SliceScanner) Entry() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err implements Scanner.
func (s *SliceScanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Scanner.
func (s *SliceScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceScanner) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumed returns the number of entries handed out by Next.
func (s *SliceScanner) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}
