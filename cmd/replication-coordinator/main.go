// Command replication-coordinator runs the replication work-assignment coordinator:
// it projects closed-file markers into status records and dispatches the files that
// still need replication onto the work queue.
//
// Usage:
//
//	replication-coordinator -config /etc/replication/replication.yaml
//
// Every setting can be overridden by environment variables (TABLE_DSN, ETCD_ENDPOINTS, ...).
// max_queue_size is re-read from the configuration file on every assignment cycle.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/getpup/pupsourcing-replication/config"
	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
	"github.com/getpup/pupsourcing-replication/lifecycle"
	"github.com/getpup/pupsourcing-replication/lifecycle/etcdelection"
	"github.com/getpup/pupsourcing-replication/metrics"
	"github.com/getpup/pupsourcing-replication/pkg/migrations"
	"github.com/getpup/pupsourcing-replication/pkg/replication"
	"github.com/getpup/pupsourcing-replication/pkg/version"
	"github.com/getpup/pupsourcing-replication/workqueue"
	"github.com/getpup/pupsourcing-replication/workqueue/etcdqueue"
	memqueue "github.com/getpup/pupsourcing-replication/workqueue/memory"
	"github.com/getpup/pupsourcing-replication/workqueue/sqlqueue"
)

const connectTimeout = 2 * time.Minute

func main() {
	var (
		configPath = flag.String("config", os.Getenv("REPLICATION_CONFIG"), "Path to the YAML configuration file")
		migrate    = flag.Bool("migrate", false, "Create the tables before starting")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level}, os.Stderr).
		With("instance", cfg.Instance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting replication coordinator", "version", version.Version)
	if err := run(ctx, cfg, *configPath, *migrate, logger); err != nil {
		logger.Error(ctx, "replication coordinator failed", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "replication coordinator stopped")
}

func run(ctx context.Context, cfg config.Config, configPath string, migrate bool, logger *logging.Logger) error {
	dialect, err := sqldialect.Parse(cfg.Table.Driver)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, dialect, cfg.Table.DSN, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		mcfg := migrations.DefaultConfig()
		mcfg.SourceTable = cfg.SourceTable
		mcfg.ReplicationTable = cfg.ReplicationTable
		mcfg.QueueTable = ""
		if cfg.Queue.Backend == config.QueueBackendSQL {
			mcfg.QueueTable = cfg.Queue.SQLTable
		}
		if err := replication.RunMigrations(ctx, db, string(dialect), mcfg); err != nil {
			return err
		}
		logger.Info(ctx, "tables migrated")
	}

	queue, elector, closeQueue, err := openQueue(ctx, cfg, db, dialect, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	var maxQueueSize config.MaxQueueSizeSource = config.Static(cfg.MaxQueueSize)
	if configPath != "" {
		maxQueueSize = config.NewFileSource(configPath, cfg.MaxQueueSize, logger.Component("config"))
	}

	if cfg.Metrics.Enabled {
		server := metrics.NewServer(metrics.ServerConfig{
			Addr: cfg.Metrics.Addr,
			Ready: func(ctx context.Context) error {
				pingCtx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				return db.PingContext(pingCtx)
			},
			Logger: logger.Component("metrics"),
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error(ctx, "failed to stop metrics server", "error", err)
			}
		}()
		logger.Info(ctx, "metrics server started", "addr", server.Addr())
	}

	manager, err := replication.NewManager(elector,
		replication.WithInstance(cfg.Instance),
		replication.WithDatabase(db, string(dialect)),
		replication.WithWorkQueue(queue),
		replication.WithSourceTable(cfg.SourceTable),
		replication.WithReplicationTable(cfg.ReplicationTable),
		replication.WithMaxQueueSizeSource(maxQueueSize),
		replication.WithScanParallelism(cfg.ScanParallelism),
		replication.WithPollInterval(cfg.PollInterval),
		replication.WithLogger(logger.Component("coordinator")),
		replication.WithMetricsEnabled(cfg.Metrics.Enabled),
	)
	if err != nil {
		return err
	}

	return manager.Run(ctx)
}

// openDatabase opens the table database and waits until it answers.
func openDatabase(ctx context.Context, dialect sqldialect.Dialect, dsn string, logger *logging.Logger) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = retry(ctx, "database", logger, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openQueue builds the work queue and the matching elector.
// Only etcd can elect among several coordinator processes; the other
// backends run a single coordinator.
func openQueue(ctx context.Context, cfg config.Config, db *sql.DB, dialect sqldialect.Dialect, logger *logging.Logger) (workqueue.Queue, lifecycle.Elector, func(), error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendEtcd:
		etcdCfg := etcdqueue.ClientConfig{
			Endpoints:   cfg.Queue.Etcd.Endpoints,
			Namespace:   cfg.Queue.Etcd.Namespace,
			Username:    cfg.Queue.Etcd.Username,
			Password:    cfg.Queue.Etcd.Password,
			DialTimeout: cfg.Queue.Etcd.DialTimeout,
		}
		var closer io.Closer
		var queue *etcdqueue.Queue
		var elector *etcdelection.Elector
		err := retry(ctx, "etcd", logger, func() error {
			client, err := etcdqueue.Dial(ctx, etcdCfg)
			if err != nil {
				return err
			}
			closer = client
			queue = etcdqueue.New(client, etcdqueue.Config{Prefix: cfg.Queue.Etcd.Prefix})
			elector = etcdelection.New(client, etcdelection.Config{
				Prefix:     cfg.Queue.Etcd.ElectionPrefix,
				Candidate:  candidateName(cfg.Instance),
				SessionTTL: cfg.Queue.Etcd.SessionTTL,
			})
			return nil
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return queue, elector, func() { _ = closer.Close() }, nil

	case config.QueueBackendSQL:
		queue := sqlqueue.NewWithConfig(db, dialect, sqlqueue.TableConfig{QueueTable: cfg.Queue.SQLTable})
		if err := queue.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		return queue, lifecycle.Single(), func() {}, nil

	case config.QueueBackendMemory:
		logger.Info(ctx, "using in-memory work queue, queued work is lost on restart")
		return memqueue.New(), lifecycle.Single(), func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// retry runs op with exponential backoff until it succeeds, ctx is done or connectTimeout passes.
func retry(ctx context.Context, what string, logger *logging.Logger, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, delay time.Duration) {
		logger.Warn(ctx, "connection attempt failed, retrying", "target", what, "delay", delay, "error", err)
	})
}

func candidateName(instance string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return instance
	}
	return instance + "@" + hostname + "/" + fmt.Sprint(os.Getpid())
}
