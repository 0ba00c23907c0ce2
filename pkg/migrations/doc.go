// Package migrations provides SQL migration generation for the replication coordinator.
// It generates the schema of the source and replication tables and of the SQL work queue
// for PostgreSQL, MySQL/MariaDB, and SQLite databases.
package migrations
