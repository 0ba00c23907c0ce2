//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/getpup/pupsourcing-replication/pkg/migrations"
	"github.com/getpup/pupsourcing-replication/pkg/replication"
	"github.com/getpup/pupsourcing-replication/table/sqltable"
	"github.com/getpup/pupsourcing-replication/workqueue/etcdqueue"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// getTestEtcd returns an etcd client scoped to a fresh namespace.
// It reads the ETCD_ENDPOINTS environment variable and skips the test if not set.
func getTestEtcd(t *testing.T) *clientv3.Client {
	t.Helper()

	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := etcdqueue.Dial(ctx, etcdqueue.ClientConfig{
		Endpoints: strings.Split(endpoints, ","),
		Namespace: "replication-it-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("failed to connect to etcd: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// setupTables creates uniquely named source and replication tables and drops them after the test.
func setupTables(t *testing.T, db *sql.DB) migrations.Config {
	t.Helper()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	cfg := migrations.DefaultConfig()
	cfg.SourceTable = "it_metadata_" + suffix
	cfg.ReplicationTable = "it_replication_" + suffix
	cfg.QueueTable = ""

	if err := replication.RunMigrations(context.Background(), db, "postgres", cfg); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}

	t.Cleanup(func() {
		for _, name := range []string{cfg.SourceTable, cfg.ReplicationTable} {
			if _, err := db.Exec(sqltable.DropTableSQL(name)); err != nil {
				t.Logf("warning: failed to drop table %s: %v", name, err)
			}
		}
	})

	return cfg
}
