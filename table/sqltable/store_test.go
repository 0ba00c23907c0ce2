package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/table"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openSQLite opens a file-backed SQLite database in WAL mode so that a scan and a
// write transaction may be open at the same time.
func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "table.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readAll(t *testing.T, s table.Scanner) []table.Entry {
	t.Helper()
	defer s.Close()

	var entries []table.Entry
	for s.Next(context.Background()) {
		entries = append(entries, s.Entry())
	}
	require.NoError(t, s.Err())
	return entries
}

func put(t *testing.T, s *Store, name string, row, family, qualifier string, value []byte) {
	t.Helper()
	ctx := context.Background()

	w, err := s.NewBatchWriter(ctx, name)
	require.NoError(t, err)
	require.NoError(t, w.AddMutation(ctx, table.NewMutation(row).Put(family, qualifier, value)))
	require.NoError(t, w.Close(ctx))
}

func TestScanQuery(t *testing.T) {
	t.Run("full range without families", func(t *testing.T) {
		s := New(nil, sqldialect.SQLite)
		query, args := s.scanQuery("replication", table.ScanOptions{})

		assert.Equal(t, "SELECT row_id, family, qualifier, value FROM replication ORDER BY row_id, family, qualifier", query)
		assert.Empty(t, args)
	})

	t.Run("postgres numbers placeholders in order", func(t *testing.T) {
		s := New(nil, sqldialect.Postgres)
		query, args := s.scanQuery("metadata", table.ScanOptions{
			Range:    table.PrefixRange("~repl"),
			Families: []string{"stat", "work"},
		})

		assert.Equal(t, "SELECT row_id, family, qualifier, value FROM metadata WHERE row_id >= $1 AND row_id < $2 AND family IN ($3, $4) ORDER BY row_id, family, qualifier", query)
		assert.Equal(t, []any{"~repl", "~repm", "stat", "work"}, args)
	})

	t.Run("mysql uses question marks", func(t *testing.T) {
		s := New(nil, sqldialect.MySQL)
		query, args := s.scanQuery("replication", table.ScanOptions{Families: []string{"work"}})

		assert.Equal(t, "SELECT row_id, family, qualifier, value FROM replication WHERE family IN (?) ORDER BY row_id, family, qualifier", query)
		assert.Equal(t, []any{"work"}, args)
	})
}

func TestCreateTableSQL(t *testing.T) {
	pg := CreateTableSQL(sqldialect.Postgres, "replication")
	assert.Contains(t, pg, "CREATE TABLE IF NOT EXISTS replication")
	assert.Contains(t, pg, "value BYTEA NOT NULL")
	assert.Contains(t, pg, "PRIMARY KEY (row_id, family, qualifier)")

	my := CreateTableSQL(sqldialect.MySQL, "replication")
	assert.Contains(t, my, "row_id VARCHAR(512)")
	assert.Contains(t, my, "ENGINE=InnoDB")

	assert.Equal(t, "DROP TABLE IF EXISTS replication", DropTableSQL("replication"))
}

func TestStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)

	exists, err := s.Exists(ctx, "replication")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Create(ctx, "replication"))
	require.NoError(t, s.Create(ctx, "replication"))

	exists, err = s.Exists(ctx, "replication")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_RejectsUnsafeTableNames(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)

	assert.Error(t, s.Create(ctx, "replication; DROP TABLE x"))
	_, err := s.Exists(ctx, "1replication")
	assert.Error(t, err)
}

func TestStore_MissingTable(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)

	_, err := s.Scan(ctx, "metadata", table.ScanOptions{})
	assert.ErrorIs(t, err, table.ErrTableNotFound)

	_, err = s.NewBatchWriter(ctx, "replication")
	assert.ErrorIs(t, err, table.ErrTableNotFound)
}

func TestStore_ScanFiltersRangeAndFamily(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "metadata"))

	put(t, s, "metadata", "~repl/data/b.rf", "stat", "2", []byte("b"))
	put(t, s, "metadata", "~repl/data/a.rf", "stat", "1", []byte("a"))
	put(t, s, "metadata", "~repl/data/a.rf", "other", "1", []byte("x"))
	put(t, s, "metadata", "1;row", "stat", "1", []byte("y"))
	put(t, s, "metadata", "~replz", "stat", "1", []byte("z"))

	scanner, err := s.Scan(ctx, "metadata", table.ClosedFileSection.ScanOptions())
	require.NoError(t, err)
	entries := readAll(t, scanner)

	require.Len(t, entries, 3)
	assert.Equal(t, table.Key{Row: "~repl/data/a.rf", Family: "stat", Qualifier: "1"}, entries[0].Key)
	assert.Equal(t, []byte("a"), entries[0].Value)
	assert.Equal(t, "~repl/data/b.rf", entries[1].Key.Row)
	assert.Equal(t, "~replz", entries[2].Key.Row)
}

func TestStore_FlushOverwritesCell(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "replication"))

	put(t, s, "replication", "/data/a.rf", "repl", "1", []byte("first"))
	put(t, s, "replication", "/data/a.rf", "repl", "1", []byte("second"))

	scanner, err := s.Scan(ctx, "replication", table.ScanOptions{})
	require.NoError(t, err)
	entries := readAll(t, scanner)

	require.Len(t, entries, 1)
	assert.Equal(t, []byte("second"), entries[0].Value)
}

func TestStore_ScanWhileWriting(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "metadata"))
	require.NoError(t, s.Create(ctx, "replication"))
	put(t, s, "metadata", "~repl/data/a.rf", "stat", "1", []byte("a"))
	put(t, s, "metadata", "~repl/data/b.rf", "stat", "1", []byte("b"))

	scanner, err := s.Scan(ctx, "metadata", table.ScanOptions{})
	require.NoError(t, err)
	defer scanner.Close()

	w, err := s.NewBatchWriter(ctx, "replication")
	require.NoError(t, err)

	for scanner.Next(ctx) {
		e := scanner.Entry()
		require.NoError(t, w.AddMutation(ctx, table.NewMutation(e.Key.Row).Put("repl", e.Key.Qualifier, e.Value)))
		require.NoError(t, w.Flush(ctx))
	}
	require.NoError(t, scanner.Err())
	require.NoError(t, w.Close(ctx))

	out, err := s.Scan(ctx, "replication", table.ScanOptions{})
	require.NoError(t, err)
	assert.Len(t, readAll(t, out), 2)
}

func TestBatchWriter_RejectsEmptyMutation(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "replication"))

	w, err := s.NewBatchWriter(ctx, "replication")
	require.NoError(t, err)

	err = w.AddMutation(ctx, table.NewMutation("/data/a.rf"))
	var rejected *table.MutationsRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, []string{"/data/a.rf"}, rejected.Rows)
	assert.ErrorIs(t, err, table.ErrEmptyMutation)
}

func TestBatchWriter_FlushFailureRejectsRows(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	s := New(db, sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "replication"))

	w, err := s.NewBatchWriter(ctx, "replication")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, DropTableSQL("replication"))
	require.NoError(t, err)

	require.NoError(t, w.AddMutation(ctx, table.NewMutation("/data/a.rf").Put("repl", "1", []byte("v"))))
	err = w.Flush(ctx)

	var rejected *table.MutationsRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, []string{"/data/a.rf"}, rejected.Rows)

	// the buffer is emptied even on failure
	assert.NoError(t, w.Flush(ctx))
}

func TestBatchWriter_Closed(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "replication"))

	w, err := s.NewBatchWriter(ctx, "replication")
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	err = w.AddMutation(ctx, table.NewMutation("/data/a.rf").Put("repl", "1", nil))
	assert.ErrorIs(t, err, table.ErrWriterClosed)
}

func TestRowScanner_StopsOnCancelledContext(t *testing.T) {
	ctx := context.Background()
	s := New(openSQLite(t), sqldialect.SQLite)
	require.NoError(t, s.Create(ctx, "replication"))
	put(t, s, "replication", "/data/a.rf", "repl", "1", []byte("a"))

	scanner, err := s.Scan(ctx, "replication", table.ScanOptions{})
	require.NoError(t, err)
	defer scanner.Close()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	assert.False(t, scanner.Next(cancelled))
	assert.ErrorIs(t, scanner.Err(), context.Canceled)
}
