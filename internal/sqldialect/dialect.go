// Package sqldialect hides the differences between the SQL databases the
// table service and the work queue can run on.
package sqldialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect names a database/sql driver family.
type Dialect string

const (
	// Postgres is PostgreSQL through github.com/lib/pq.
	Postgres Dialect = "postgres"

	// MySQL is MySQL/MariaDB through github.com/go-sql-driver/mysql.
	MySQL Dialect = "mysql"

	// SQLite is SQLite through github.com/mattn/go-sqlite3.
	SQLite Dialect = "sqlite3"
)

// Parse maps a driver or adapter name to a Dialect.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q: supported dialects are postgres, mysql, sqlite", name)
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// Placeholder returns the bind parameter for the 1-based position n.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma separated bind parameters starting at position start.
func (d Dialect) Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// KeyColumn returns the column type for a byte-ordered key of at most size characters.
func (d Dialect) KeyColumn(size int) string {
	switch d {
	case Postgres:
		return `TEXT COLLATE "C"`
	case MySQL:
		return fmt.Sprintf("VARCHAR(%d) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin", size)
	default:
		return "TEXT"
	}
}

// TextColumn returns the column type for unbounded text.
func (d Dialect) TextColumn() string {
	if d == MySQL {
		return "LONGTEXT"
	}
	return "TEXT"
}

// BlobColumn returns the column type for opaque bytes.
func (d Dialect) BlobColumn() string {
	switch d {
	case Postgres:
		return "BYTEA"
	case MySQL:
		return "LONGBLOB"
	default:
		return "BLOB"
	}
}

// TimestampColumn returns the column type and default for a creation timestamp.
func (d Dialect) TimestampColumn() string {
	switch d {
	case Postgres:
		return "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	case MySQL:
		return "TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)"
	default:
		return "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
}

// TableSuffix returns the trailing table options of CREATE TABLE.
func (d Dialect) TableSuffix() string {
	if d == MySQL {
		return " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
	}
	return ""
}

// Upsert returns an INSERT statement that overwrites the non-key columns on key conflict.
func (d Dialect) Upsert(table string, keyColumns, valueColumns []string) string {
	columns := append(append([]string{}, keyColumns...), valueColumns...)
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), d.Placeholders(1, len(columns)))

	updates := make([]string, len(valueColumns))
	for i, c := range valueColumns {
		if d == MySQL {
			updates[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		} else {
			updates[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
	}

	if d == MySQL {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}
	return insert + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keyColumns, ", "), strings.Join(updates, ", "))
}

// TableExistsQuery returns a query with a single bind parameter (the table name)
// that yields one row with a count greater than zero when the table exists.
func (d Dialect) TableExistsQuery() string {
	switch d {
	case Postgres:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	case MySQL:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}
