// Package replication is the public entry point for running a replication coordinator.
package replication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rootpkg "github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing-replication/config"
	"github.com/getpup/pupsourcing-replication/coordinator"
	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/lifecycle"
	"github.com/getpup/pupsourcing-replication/metrics"
	"github.com/getpup/pupsourcing-replication/pkg/migrations"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing-replication/table/sqltable"
	"github.com/getpup/pupsourcing-replication/workqueue"
	"github.com/getpup/pupsourcing/es"
	"github.com/jonboulle/clockwork"
)

// Re-export core types from root package
type (
	// Coordinator runs the status projection and work assignment loops.
	Coordinator = rootpkg.Coordinator

	// WorkKey identifies a dispatched unit of replication work.
	WorkKey = rootpkg.WorkKey

	// Leadership reports whether this process holds coordinator responsibility.
	Leadership = rootpkg.Leadership

	// LeadershipFunc adapts a function to the Leadership interface.
	LeadershipFunc = rootpkg.LeadershipFunc
)

// Option configures a Coordinator.
type Option func(*options)

// options holds the internal configuration for creating a Coordinator.
type options struct {
	instance         string
	tables           table.Service
	queue            workqueue.Queue
	sourceTable      string
	replicationTable string
	maxQueueSize     config.MaxQueueSizeSource
	scanParallelism  int
	pollInterval     time.Duration
	leadership       rootpkg.Leadership
	clock            clockwork.Clock
	logger           es.Logger
	metricsEnabled   *bool
	err              error
}

// New creates a new Coordinator with the given options.
//
// Required options:
//   - WithTableService or WithDatabase: the table service holding the source and replication tables
//   - WithWorkQueue: the queue work items are dispatched onto
//
// Optional configuration (with defaults):
//   - WithInstance: replication domain name in logs and metrics (default: "default")
//   - WithSourceTable: table holding closed-file markers (default: metadata)
//   - WithReplicationTable: table holding status records and work entries (default: replication)
//   - WithMaxQueueSize / WithMaxQueueSizeSource: in-flight ceiling (default: 1000)
//   - WithScanParallelism: read parallelism of the work scan (default: 4)
//   - WithPollInterval: pause between cycles (default: 5s)
//   - WithLeadership: leadership check before every cycle (default: always coordinator)
//   - WithClock: clock driving the pauses (default: real clock)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//
// Example:
//
//	coord, err := replication.New(
//	    replication.WithDatabase(db, "postgres"),
//	    replication.WithWorkQueue(etcdqueue.New(client, etcdqueue.Config{})),
//	    replication.WithMaxQueueSize(500),
//	)
//
// Returns an error if any required option is missing.
func New(opts ...Option) (rootpkg.Coordinator, error) {
	o, err := apply(opts)
	if err != nil {
		return nil, err
	}
	return build(o), nil
}

// NewManager creates a lifecycle Manager that campaigns through elector and runs
// a Coordinator built from opts for every term it wins. The term is the Leadership
// of its Coordinator, so WithLeadership is ignored.
func NewManager(elector lifecycle.Elector, opts ...Option) (*lifecycle.Manager, error) {
	o, err := apply(opts)
	if err != nil {
		return nil, err
	}

	return lifecycle.New(lifecycle.Config{
		Elector: elector,
		NewCoordinator: func(term lifecycle.Term) (rootpkg.Coordinator, error) {
			termOptions := *o
			termOptions.leadership = term
			return build(&termOptions), nil
		},
		Clock:  o.clock,
		Logger: o.logger,
	}), nil
}

func apply(opts []Option) (*options, error) {
	// Apply defaults
	o := &options{
		instance:         "default",
		sourceTable:      table.DefaultSourceTable,
		replicationTable: table.DefaultReplicationTable,
		maxQueueSize:     config.Static(config.DefaultMaxQueueSize),
		scanParallelism:  config.DefaultScanParallelism,
		pollInterval:     config.DefaultPollInterval,
		clock:            clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.err != nil {
		return nil, o.err
	}
	if o.tables == nil {
		return nil, fmt.Errorf("table service is required: use WithTableService or WithDatabase option")
	}
	if o.queue == nil {
		return nil, fmt.Errorf("work queue is required: use WithWorkQueue option")
	}
	if o.sourceTable == o.replicationTable {
		return nil, fmt.Errorf("source and replication tables must differ (got: %s)", o.sourceTable)
	}
	return o, nil
}

// build wires one Coordinator with fresh projector and assigner state.
func build(o *options) rootpkg.Coordinator {
	var collector *metrics.Collector
	if o.metricsEnabled == nil || *o.metricsEnabled {
		collector = metrics.NewCollector(o.instance)
	}

	projector := coordinator.NewProjector(coordinator.ProjectorConfig{
		Tables:           o.tables,
		SourceTable:      o.sourceTable,
		ReplicationTable: o.replicationTable,
		Logger:           o.logger,
		Metrics:          collector,
	})
	assigner := coordinator.NewAssigner(coordinator.AssignerConfig{
		Tables:           o.tables,
		Queue:            o.queue,
		ReplicationTable: o.replicationTable,
		MaxQueueSize:     o.maxQueueSize,
		ScanParallelism:  o.scanParallelism,
		Logger:           o.logger,
		Metrics:          collector,
	})

	return coordinator.New(coordinator.Config{
		Projector:    projector,
		Assigner:     assigner,
		Leadership:   o.leadership,
		PollInterval: o.pollInterval,
		Clock:        o.clock,
		Logger:       o.logger,
		Metrics:      collector,
	})
}

// WithInstance names the replication domain in logs and metrics.
func WithInstance(instance string) Option {
	return func(o *options) {
		o.instance = instance
	}
}

// WithTableService sets the table service holding the source and replication tables.
func WithTableService(tables table.Service) Option {
	return func(o *options) {
		o.tables = tables
	}
}

// WithDatabase stores the tables in a SQL database.
// driver is one of postgres, mysql or sqlite3.
func WithDatabase(db *sql.DB, driver string) Option {
	return func(o *options) {
		d, err := sqldialect.Parse(driver)
		if err != nil {
			o.err = err
			return
		}
		o.tables = sqltable.New(db, d)
	}
}

// WithWorkQueue sets the queue work items are dispatched onto.
func WithWorkQueue(queue workqueue.Queue) Option {
	return func(o *options) {
		o.queue = queue
	}
}

// WithSourceTable sets the table holding closed-file markers.
func WithSourceTable(name string) Option {
	return func(o *options) {
		o.sourceTable = name
	}
}

// WithReplicationTable sets the table holding status records and work entries.
func WithReplicationTable(name string) Option {
	return func(o *options) {
		o.replicationTable = name
	}
}

// WithMaxQueueSize sets a fixed in-flight ceiling.
func WithMaxQueueSize(size int) Option {
	return func(o *options) {
		o.maxQueueSize = config.Static(size)
	}
}

// WithMaxQueueSizeSource sets a ceiling that is re-read on every assignment cycle,
// such as config.FileSource.
func WithMaxQueueSizeSource(source config.MaxQueueSizeSource) Option {
	return func(o *options) {
		o.maxQueueSize = source
	}
}

// WithScanParallelism sets the read parallelism of the work scan.
func WithScanParallelism(n int) Option {
	return func(o *options) {
		o.scanParallelism = n
	}
}

// WithPollInterval sets the pause between two cycles of each loop.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
	}
}

// WithLeadership sets the leadership check run before every cycle.
func WithLeadership(leadership Leadership) Option {
	return func(o *options) {
		o.leadership = leadership
	}
}

// WithClock sets the clock driving the pauses between cycles.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger for observability.
func WithLogger(logger es.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics collection.
func WithMetricsEnabled(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = &enabled
	}
}

// RunMigrations creates the source table, the replication table and, when
// cfg.QueueTable is set, the SQL work queue table. Existing tables are kept.
//
// Example:
//
//	cfg := migrations.DefaultConfig()
//	if err := replication.RunMigrations(ctx, db, "postgres", cfg); err != nil {
//	    log.Fatal(err)
//	}
func RunMigrations(ctx context.Context, db *sql.DB, driver string, cfg migrations.Config) error {
	statements, err := migrations.Statements(&cfg, driver)
	if err != nil {
		return err
	}

	var errs []error
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}

	return nil
}
