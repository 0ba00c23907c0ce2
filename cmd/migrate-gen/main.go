// Command migrate-gen generates SQL migration files for the replication coordinator tables.
//
// Usage:
//
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -adapter sqlite -output migrations
//
// Skip the work queue table when the queue lives in etcd:
//
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -queue-table ""
//
// Print the statements instead of writing a file, e.g. to pipe them into psql:
//
//	go run github.com/getpup/pupsourcing-replication/cmd/migrate-gen -print | psql "$DATABASE_URL"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupsourcing-replication/pkg/migrations"
)

func main() {
	defaults := migrations.DefaultConfig()

	var (
		adapter          = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder     = flag.String("output", defaults.OutputFolder, "Output folder for migration file")
		outputFilename   = flag.String("filename", "", "Output filename (default: timestamp-based)")
		sourceTable      = flag.String("source-table", defaults.SourceTable, "Name of the table holding closed-file markers")
		replicationTable = flag.String("replication-table", defaults.ReplicationTable, "Name of the replication table")
		queueTable       = flag.String("queue-table", defaults.QueueTable, "Name of the work queue table (empty to skip)")
		printOnly        = flag.Bool("print", false, "Print the statements to stdout instead of writing a file")
	)

	flag.Parse()

	config := defaults
	config.OutputFolder = *outputFolder
	config.SourceTable = *sourceTable
	config.ReplicationTable = *replicationTable
	config.QueueTable = *queueTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if *printOnly {
		statements, err := migrations.Statements(&config, *adapter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
			os.Exit(1)
		}
		for _, stmt := range statements {
			fmt.Printf("%s;\n\n", stmt)
		}
		return
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
