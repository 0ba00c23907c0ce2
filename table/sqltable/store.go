// Package sqltable implements table.Service on top of database/sql.
// PostgreSQL, MySQL and SQLite are supported; the driver must be registered
// by the caller (lib/pq, go-sql-driver/mysql or mattn/go-sqlite3).
package sqltable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/table"
)

// Store is a SQL implementation of table.Service.
// Each table of the service is a SQL table of the same name.
type Store struct {
	db      *sql.DB
	dialect sqldialect.Dialect
}

// New creates a new SQL table service.
func New(db *sql.DB, dialect sqldialect.Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
	}
}

// Exists reports whether the table exists.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := sqldialect.ValidateIdentifier(name, "table"); err != nil {
		return false, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.dialect.TableExistsQuery(), name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}

// Create creates the table if it does not exist yet.
func (s *Store) Create(ctx context.Context, name string) error {
	if err := sqldialect.ValidateIdentifier(name, "table"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, CreateTableSQL(s.dialect, name)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	return nil
}

// Scan opens a scanner over the table.
// With opts.Parallelism below 2 a single query streams the rows ordered by key.
// Otherwise the row range is split into up to opts.Parallelism sub-ranges read
// concurrently, and entries come back in no particular order.
// Returns table.ErrTableNotFound if the table does not exist.
func (s *Store) Scan(ctx context.Context, name string, opts table.ScanOptions) (table.Scanner, error) {
	if err := s.requireTable(ctx, name); err != nil {
		return nil, err
	}

	if opts.Parallelism >= 2 {
		ranges, err := s.splitRange(ctx, name, opts)
		if err != nil {
			return nil, err
		}
		if len(ranges) > 1 {
			return s.parallelScan(ctx, name, opts, ranges), nil
		}
	}

	query, args := s.scanQuery(name, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan table %s: %w", name, err)
	}
	return &rowScanner{rows: rows}, nil
}

// NewBatchWriter opens a writer upserting buffered mutations in one transaction per Flush.
// Returns table.ErrTableNotFound if the table does not exist.
func (s *Store) NewBatchWriter(ctx context.Context, name string) (table.BatchWriter, error) {
	if err := s.requireTable(ctx, name); err != nil {
		return nil, err
	}
	return &batchWriter{store: s, table: name}, nil
}

func (s *Store) requireTable(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return table.ErrTableNotFound
	}
	return nil
}

func (s *Store) scanQuery(name string, opts table.ScanOptions) (string, []any) {
	where, args := s.whereClause(opts)
	query := fmt.Sprintf("SELECT row_id, family, qualifier, value FROM %s%s", name, where)
	query += " ORDER BY row_id, family, qualifier"
	return query, args
}

// whereClause renders the range and family restrictions of opts,
// including the leading " WHERE ", or an empty string without restrictions.
func (s *Store) whereClause(opts table.ScanOptions) (string, []any) {
	var (
		where []string
		args  []any
	)
	if opts.Range.Start != "" {
		args = append(args, opts.Range.Start)
		where = append(where, "row_id >= "+s.dialect.Placeholder(len(args)))
	}
	if opts.Range.End != "" {
		args = append(args, opts.Range.End)
		where = append(where, "row_id < "+s.dialect.Placeholder(len(args)))
	}
	if len(opts.Families) > 0 {
		where = append(where, fmt.Sprintf("family IN (%s)", s.dialect.Placeholders(len(args)+1, len(opts.Families))))
		for _, f := range opts.Families {
			args = append(args, f)
		}
	}

	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *Store) write(ctx context.Context, name string, mutations []*table.Mutation) error {
	rows := make([]string, 0, len(mutations))
	for _, m := range mutations {
		rows = append(rows, m.Row)
	}
	reject := func(err error) error {
		return &table.MutationsRejectedError{Rows: rows, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return reject(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	query := s.dialect.Upsert(name, []string{"row_id", "family", "qualifier"}, []string{"value"})
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return reject(fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, m := range mutations {
		for _, u := range m.Updates {
			value := u.Value
			if value == nil {
				value = []byte{}
			}
			if _, err := stmt.ExecContext(ctx, m.Row, u.Family, u.Qualifier, value); err != nil {
				return reject(fmt.Errorf("failed to write %s: %w", m.Row, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return reject(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type rowScanner struct {
	rows    *sql.Rows
	current table.Entry
	err     error
}

func (r *rowScanner) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	var e table.Entry
	if err := r.rows.Scan(&e.Key.Row, &e.Key.Family, &e.Key.Qualifier, &e.Value); err != nil {
		r.err = fmt.Errorf("failed to read row: %w", err)
		return false
	}
	r.current = e
	return true
}

func (r *rowScanner) Entry() table.Entry {
	return r.current
}

func (r *rowScanner) Err() error {
	return r.err
}

func (r *rowScanner) Close() error {
	return r.rows.Close()
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
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return w.store.write(ctx, w.table, pending)
}

func (w *batchWriter) Close(ctx context.Context) error {
	err := w.Flush(ctx)

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	return err
}
