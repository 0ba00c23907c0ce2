// Package sqlqueue implements the work queue on a SQL table, for deployments
// that run without etcd. PostgreSQL, MySQL and SQLite are supported.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/workqueue"
)

// DefaultTable is the default name of the queue table.
const DefaultTable = "replication_work_queue"

// TableConfig configures the queue table name.
type TableConfig struct {
	QueueTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		QueueTable: DefaultTable,
	}
}

// CreateTableSQL returns the DDL creating the queue table.
func CreateTableSQL(d sqldialect.Dialect, name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    work_key %s NOT NULL PRIMARY KEY,
    path %s NOT NULL,
    queued_at %s
)%s`,
		name,
		d.KeyColumn(640),
		d.TextColumn(),
		d.TimestampColumn(),
		d.TableSuffix(),
	)
}

// DropTableSQL returns the DDL dropping the queue table.
func DropTableSQL(name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", name)
}

// Queue is a SQL implementation of workqueue.Queue and workqueue.Consumer.
type Queue struct {
	db      *sql.DB
	dialect sqldialect.Dialect
	table   string
}

// New creates a queue on the default table.
func New(db *sql.DB, dialect sqldialect.Dialect) *Queue {
	return NewWithConfig(db, dialect, DefaultTableConfig())
}

// NewWithConfig creates a queue with a custom table name.
func NewWithConfig(db *sql.DB, dialect sqldialect.Dialect, config TableConfig) *Queue {
	return &Queue{
		db:      db,
		dialect: dialect,
		table:   config.QueueTable,
	}
}

// validateTable rejects table names that are unsafe to format into SQL.
func (q *Queue) validateTable() error {
	return sqldialect.ValidateIdentifier(q.table, "QueueTable")
}

// Migrate creates the queue table if it does not exist.
func (q *Queue) Migrate(ctx context.Context) error {
	if err := q.validateTable(); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, CreateTableSQL(q.dialect, q.table)); err != nil {
		return fmt.Errorf("failed to create queue table: %w", err)
	}
	return nil
}

// ListQueued returns every queued key in key order.
func (q *Queue) ListQueued(ctx context.Context) ([]string, error) {
	if err := q.validateTable(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT work_key FROM %s ORDER BY work_key", q.table)

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued work: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan queued work: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queued work: %w", err)
	}
	return keys, nil
}

// Add inserts the item, overwriting the path of an existing key.
func (q *Queue) Add(ctx context.Context, key, path string) error {
	if err := q.validateTable(); err != nil {
		return err
	}
	if err := workqueue.ValidateKey(key); err != nil {
		return err
	}

	query := q.dialect.Upsert(q.table, []string{"work_key"}, []string{"path"})
	if _, err := q.db.ExecContext(ctx, query, key, path); err != nil {
		return fmt.Errorf("failed to queue %s: %w", key, err)
	}
	return nil
}

// Get returns the file path of a queued item.
func (q *Queue) Get(ctx context.Context, key string) (string, bool, error) {
	if err := q.validateTable(); err != nil {
		return "", false, err
	}
	query := fmt.Sprintf("SELECT path FROM %s WHERE work_key = %s", q.table, q.dialect.Placeholder(1))

	var path string
	err := q.db.QueryRowContext(ctx, query, key).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read queued work %s: %w", key, err)
	}
	return path, true, nil
}

// Finish deletes a queued item.
func (q *Queue) Finish(ctx context.Context, key string) error {
	if err := q.validateTable(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE work_key = %s", q.table, q.dialect.Placeholder(1))
	if _, err := q.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to finish %s: %w", key, err)
	}
	return nil
}
