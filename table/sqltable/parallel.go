package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/pupsourcing-replication/table"
	"golang.org/x/sync/errgroup"
)

// minCellsPerReader keeps small scans on a single query.
const minCellsPerReader = 100

// splitRange divides opts.Range into at most opts.Parallelism row ranges holding
// roughly the same number of cells. Split points are row ids sampled at even
// offsets of the matching cells, so every cell lands in exactly one range.
// Returns a single range when the scan is too small to split.
func (s *Store) splitRange(ctx context.Context, name string, opts table.ScanOptions) ([]table.Range, error) {
	where, args := s.whereClause(opts)

	var count int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", name, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count cells of table %s: %w", name, err)
	}

	readers := opts.Parallelism
	if limit := count / minCellsPerReader; readers > limit {
		readers = limit
	}
	if readers < 2 {
		return []table.Range{opts.Range}, nil
	}

	bounds := []string{opts.Range.Start}
	for i := 1; i < readers; i++ {
		offset := i * count / readers
		splitQuery := fmt.Sprintf("SELECT row_id FROM %s%s ORDER BY row_id LIMIT 1 OFFSET %d", name, where, offset)

		var row string
		err := s.db.QueryRowContext(ctx, splitQuery, args...).Scan(&row)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to split scan of table %s: %w", name, err)
		}
		// rows holding many cells can yield the same split point twice
		if row == bounds[len(bounds)-1] {
			continue
		}
		bounds = append(bounds, row)
	}
	bounds = append(bounds, opts.Range.End)

	ranges := make([]table.Range, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		ranges = append(ranges, table.Range{Start: bounds[i], End: bounds[i+1]})
	}
	return ranges, nil
}

// parallelScan starts one reader per range. Readers stream into a shared channel
// until they are exhausted, one fails or the scanner is closed.
func (s *Store) parallelScan(ctx context.Context, name string, opts table.ScanOptions, ranges []table.Range) *parallelScanner {
	readCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(readCtx)

	p := &parallelScanner{
		entries: make(chan table.Entry, len(ranges)*16),
		cancel:  cancel,
	}

	for _, r := range ranges {
		sub := opts
		sub.Range = r
		g.Go(func() error {
			return s.readRange(gctx, name, sub, p.entries)
		})
	}

	go func() {
		p.readErr = g.Wait()
		close(p.entries)
	}()
	return p
}

func (s *Store) readRange(ctx context.Context, name string, opts table.ScanOptions, out chan<- table.Entry) error {
	query, args := s.scanQuery(name, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan table %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e table.Entry
		if err := rows.Scan(&e.Key.Row, &e.Key.Family, &e.Key.Qualifier, &e.Value); err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}

type parallelScanner struct {
	entries chan table.Entry
	cancel  context.CancelFunc
	readErr error // written before entries is closed

	current   table.Entry
	err       error
	done      bool
	closeOnce sync.Once
}

func (p *parallelScanner) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		p.done = true
		p.err = err
		return false
	}

	select {
	case e, ok := <-p.entries:
		if !ok {
			p.done = true
			p.err = p.readErr
			return false
		}
		p.current = e
		return true
	case <-ctx.Done():
		p.done = true
		p.err = ctx.Err()
		return false
	}
}

func (p *parallelScanner) Entry() table.Entry {
	return p.current
}

func (p *parallelScanner) Err() error {
	return p.err
}

// Close stops the readers and waits for them to release their connections.
func (p *parallelScanner) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		for range p.entries {
		}
		p.done = true
	})
	return nil
}
