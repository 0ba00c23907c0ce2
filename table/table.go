// Package table defines the sorted key/value table service the coordinator reads
// closed-file markers from and writes replication status records to.
package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableNotFound indicates the table does not exist (yet).
	// Callers treat it as "not yet available" and retry later.
	ErrTableNotFound = errors.New("table not found")

	// ErrWriterClosed indicates a mutation was added to a closed BatchWriter.
	ErrWriterClosed = errors.New("batch writer closed")

	// ErrEmptyMutation indicates a mutation without any column update.
	ErrEmptyMutation = errors.New("mutation has no updates")
)

// Key addresses a single cell of a table.
type Key struct {
	Row       string
	Family    string
	Qualifier string
}

// Less orders keys by row, then family, then qualifier.
func (k Key) Less(other Key) bool {
	if k.Row != other.Row {
		return k.Row < other.Row
	}
	if k.Family != other.Family {
		return k.Family < other.Family
	}
	return k.Qualifier < other.Qualifier
}

// Entry is a cell read by a Scanner.
type Entry struct {
	Key   Key
	Value []byte
}

// Range is a half-open row range [Start, End). Empty bounds are unbounded.
type Range struct {
	Start string
	End   string
}

// FullRange covers every row of a table.
func FullRange() Range {
	return Range{}
}

// PrefixRange covers every row starting with prefix.
func PrefixRange(prefix string) Range {
	if prefix == "" {
		return Range{}
	}
	return Range{Start: prefix, End: prefixEnd(prefix)}
}

// Contains reports whether row falls inside r.
func (r Range) Contains(row string) bool {
	if r.Start != "" && row < r.Start {
		return false
	}
	if r.End != "" && row >= r.End {
		return false
	}
	return true
}

// prefixEnd returns the smallest string greater than every string with the given prefix.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// ScanOptions restricts a scan.
type ScanOptions struct {
	// Range restricts the rows returned. The zero value covers the whole table.
	Range Range

	// Families restricts the column families returned. Empty returns every family.
	Families []string

	// Parallelism is the number of concurrent readers the implementation may use.
	// Entries are then returned in no particular order. Values below 2 read sequentially.
	// The SQL store splits the row range across readers; the memory store ignores it.
	Parallelism int
}

// HasFamily reports whether the options select the family.
func (o ScanOptions) HasFamily(family string) bool {
	if len(o.Families) == 0 {
		return true
	}
	for _, f := range o.Families {
		if f == family {
			return true
		}
	}
	return false
}

// Scanner iterates over the entries of a scan.
// Typical use:
//
//	for s.Next(ctx) {
//	    e := s.Entry()
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner interface {
	// Next advances to the next entry. Returns false when the scan is exhausted or failed.
	Next(ctx context.Context) bool

	// Entry returns the current entry.
	Entry() Entry

	// Err returns the error that stopped the scan, if any.
	Err() error

	// Close releases the resources held by the scan. Safe to call more than once.
	Close() error
}

// ColumnUpdate is a single cell write inside a Mutation.
type ColumnUpdate struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Mutation groups cell writes on one row.
type Mutation struct {
	Row     string
	Updates []ColumnUpdate
}

// NewMutation creates an empty mutation for row.
func NewMutation(row string) *Mutation {
	return &Mutation{Row: row}
}

// Put appends a cell write to the mutation.
func (m *Mutation) Put(family, qualifier string, value []byte) *Mutation {
	m.Updates = append(m.Updates, ColumnUpdate{Family: family, Qualifier: qualifier, Value: value})
	return m
}

// BatchWriter buffers mutations and writes them on Flush.
type BatchWriter interface {
	// AddMutation buffers a mutation.
	// Returns a *MutationsRejectedError if the mutation is invalid.
	AddMutation(ctx context.Context, m *Mutation) error

	// Flush writes every buffered mutation. The buffer is emptied even on failure.
	// Returns a *MutationsRejectedError naming the rows that were not written.
	Flush(ctx context.Context) error

	// Close flushes and releases the writer.
	Close(ctx context.Context) error
}

// MutationsRejectedError reports mutations a table refused to write.
type MutationsRejectedError struct {
	Rows []string
	Err  error
}

func (e *MutationsRejectedError) Error() string {
	return fmt.Sprintf("%d mutation(s) rejected [%s]: %v", len(e.Rows), strings.Join(e.Rows, ", "), e.Err)
}

func (e *MutationsRejectedError) Unwrap() error {
	return e.Err
}

// Service is the table service used by the coordinator.
// Implementations must be safe for concurrent access.
type Service interface {
	// Exists reports whether the table exists.
	Exists(ctx context.Context, table string) (bool, error)

	// Create creates the table if it does not exist yet. Idempotent.
	Create(ctx context.Context, table string) error

	// Scan opens a scanner over the table.
	// Returns ErrTableNotFound if the table does not exist.
	Scan(ctx context.Context, table string, opts ScanOptions) (Scanner, error)

	// NewBatchWriter opens a batch writer on the table.
	// Returns ErrTableNotFound if the table does not exist.
	NewBatchWriter(ctx context.Context, table string) (BatchWriter, error)
}
