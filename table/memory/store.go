package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/getpup/pupsourcing-replication/table"
)

// Store is an in-memory implementation of table.Service for testing.
// It provides thread-safe access to the tables using a sync.RWMutex.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[table.Key][]byte // table -> key -> value
}

// New creates a new in-memory store without any tables.
func New() *Store {
	return &Store{
		tables: make(map[string]map[table.Key][]byte),
	}
}

// Exists reports whether the table exists.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tables[name]
	return ok, nil
}

// Create creates the table if it does not exist yet.
func (s *Store) Create(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; !ok {
		s.tables[name] = make(map[table.Key][]byte)
	}
	return nil
}

// Scan returns a snapshot of the entries matching opts, sorted by key.
// Returns table.ErrTableNotFound if the table does not exist.
func (s *Store) Scan(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cells, ok := s.tables[name]
	if !ok {
		return nil, table.ErrTableNotFound
	}

	entries := make([]table.Entry, 0, len(cells))
	for k, v := range cells {
		if !opts.Range.Contains(k.Row) || !opts.HasFamily(k.Family) {
			continue
		}
		entries = append(entries, table.Entry{Key: k, Value: append([]byte(nil), v...)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})

	return table.NewSliceScanner(entries), nil
}

// NewBatchWriter opens a writer applying mutations to the table on Flush.
// Returns table.ErrTableNotFound if the table does not exist.
func (s *Store) NewBatchWriter(ctx context.Context, name string) (table.BatchWriter, error) {
	exists, _ := s.Exists(ctx, name)
	if !exists {
		return nil, table.ErrTableNotFound
	}
	return &batchWriter{store: s, table: name}, nil
}

// Put writes a single cell, creating the table if needed.
func (s *Store) Put(name string, k table.Key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells, ok := s.tables[name]
	if !ok {
		cells = make(map[table.Key][]byte)
		s.tables[name] = cells
	}
	cells[k] = append([]byte(nil), value...)
}

// Delete removes a single cell.
func (s *Store) Delete(name string, k table.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tables[name], k)
}

// Get returns the value of a single cell.
func (s *Store) Get(name string, k table.Key) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.tables[name][k]
	return v, ok
}

// Entries returns every cell of the table sorted by key.
func (s *Store) Entries(name string) []table.Entry {
	scanner, err := s.Scan(context.Background(), name, table.ScanOptions{})
	if err != nil {
		return nil
	}
	defer scanner.Close()

	var entries []table.Entry
	for scanner.Next(context.Background()) {
		entries = append(entries, scanner.Entry())
	}
	return entries
}

func (s *Store) apply(name string, mutations []*table.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells, ok := s.tables[name]
	if !ok {
		rows := make([]string, 0, len(mutations))
		for _, m := range mutations {
			rows = append(rows, m.Row)
		}
		return &table.MutationsRejectedError{Rows: rows, Err: table.ErrTableNotFound}
	}

	for _, m := range mutations {
		for _, u := range m.Updates {
			k := table.Key{Row: m.Row, Family: u.Family, Qualifier: u.Qualifier}
			cells[k] = append([]byte(nil), u.Value...)
		}
	}
	return nil
}

type batchWriter struct {
	mu      sync.Mutex
	store   *Store
	table   string
	pending []*table.Mutation
	closed  bool
}

func (w *batchWriter) AddMutation(ctx context.Context, m *table.Mutation) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return table.ErrWriterClosed
	}
	if m == nil || len(m.Updates) == 0 {
		row := ""
		if m != nil {
			row = m.Row
		}
		return &table.MutationsRejectedError{Rows: []string{row}, Err: table.ErrEmptyMutation}
	}
	w.pending = append(w.pending, m)
	return nil
}

func (w *batchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.pending
	w.pending = nil
	if len(pending) == 0 {
		return nil
	}
	return w.store.apply(w.table, pending)
}

func (w *batchWriter) Close(ctx context.Context) error {
	err := w.Flush(ctx)

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	return err
}
