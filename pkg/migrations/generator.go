package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing-replication/table/sqltable"
	"github.com/getpup/pupsourcing-replication/workqueue/sqlqueue"
)

// Config configures migration generation for the replication tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SourceTable is the table ingestion writes closed-file markers to
	SourceTable string

	// ReplicationTable is the table holding status records and work entries
	ReplicationTable string

	// QueueTable is the work queue table. Leave empty when the queue lives in etcd.
	QueueTable string
}

// DefaultConfig returns the default configuration for replication migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_replication.sql", timestamp),
		SourceTable:      table.DefaultSourceTable,
		ReplicationTable: table.DefaultReplicationTable,
		QueueTable:       sqlqueue.DefaultTable,
	}
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := sqldialect.ValidateIdentifier(config.SourceTable, "SourceTable"); err != nil {
		return err
	}
	if err := sqldialect.ValidateIdentifier(config.ReplicationTable, "ReplicationTable"); err != nil {
		return err
	}
	if config.QueueTable != "" {
		if err := sqldialect.ValidateIdentifier(config.QueueTable, "QueueTable"); err != nil {
			return err
		}
	}
	if config.SourceTable == config.ReplicationTable {
		return fmt.Errorf("SourceTable and ReplicationTable must differ (got: %s)", config.SourceTable)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(config, sqldialect.Postgres)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return generate(config, sqldialect.MySQL)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(config, sqldialect.SQLite)
}

func generate(config *Config, d sqldialect.Dialect) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(generateSQL(config, d)), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// Statements returns the DDL statements of the migration for an adapter
// (postgres, mysql or sqlite), one table per statement, for callers that
// apply the schema directly instead of writing a file.
func Statements(config *Config, adapter string) ([]string, error) {
	d, err := sqldialect.Parse(adapter)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	statements := []string{
		sqltable.CreateTableSQL(d, config.SourceTable),
		sqltable.CreateTableSQL(d, config.ReplicationTable),
	}
	if config.QueueTable != "" {
		statements = append(statements, sqlqueue.CreateTableSQL(d, config.QueueTable))
	}
	return statements, nil
}

// generateSQL renders the migration file for a dialect.
// The configuration is assumed to be valid.
func generateSQL(config *Config, d sqldialect.Dialect) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- Replication Coordinator Migration\n")
	fmt.Fprintf(&b, "-- Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- Database: %s\n\n", databaseName(d))

	fmt.Fprintf(&b, "-- Source table: ingestion writes closed-file markers to rows prefixed with %q, family %q\n",
		table.ClosedFileSection.RowPrefix, table.ClosedFileSection.Family)
	fmt.Fprintf(&b, "%s;\n\n", sqltable.CreateTableSQL(d, config.SourceTable))

	fmt.Fprintf(&b, "-- Replication table: status records (family %q) and work entries (family %q)\n",
		table.StatusSection.Family, table.WorkSection.Family)
	fmt.Fprintf(&b, "%s;\n", sqltable.CreateTableSQL(d, config.ReplicationTable))

	if config.QueueTable != "" {
		fmt.Fprintf(&b, "\n-- Work queue: one row per dispatched work key, deleted by the worker when done\n")
		fmt.Fprintf(&b, "%s;\n", sqlqueue.CreateTableSQL(d, config.QueueTable))
	}

	return b.String()
}

func databaseName(d sqldialect.Dialect) string {
	switch d {
	case sqldialect.Postgres:
		return "PostgreSQL"
	case sqldialect.MySQL:
		return "MySQL/MariaDB"
	default:
		return "SQLite"
	}
}
