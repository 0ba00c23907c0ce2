// Package config loads the coordinator configuration from an optional YAML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxQueueSize    = 1000
	DefaultPollInterval    = 5 * time.Second
	DefaultScanParallelism = 4
	DefaultMetricsAddr     = ":9090"
)

// Queue backends.
const (
	QueueBackendEtcd   = "etcd"
	QueueBackendSQL    = "sql"
	QueueBackendMemory = "memory"
)

// Config is the complete coordinator configuration.
type Config struct {
	// Instance identifies the replication domain in logs and metrics.
	Instance string `yaml:"instance"`

	// SourceTable holds the closed-file markers.
	SourceTable string `yaml:"source_table"`

	// ReplicationTable receives the status records and holds the work entries.
	ReplicationTable string `yaml:"replication_table"`

	// MaxQueueSize is the in-flight ceiling of the work queue.
	// It is re-read from the file on every assignment cycle.
	MaxQueueSize int `yaml:"max_queue_size"`

	// PollInterval is the pause between two cycles of each loop.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ScanParallelism is the read parallelism of the work scan.
	ScanParallelism int `yaml:"scan_parallelism"`

	Table   TableConfig   `yaml:"table"`
	Queue   QueueConfig   `yaml:"queue"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TableConfig selects the SQL database backing the table service.
type TableConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend string     `yaml:"backend"`
	Etcd    EtcdConfig `yaml:"etcd"`

	// SQLTable is the queue table of the sql backend, stored next to the replication table.
	SQLTable string `yaml:"sql_table"`
}

// EtcdConfig configures the etcd queue backend.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Namespace   string        `yaml:"namespace"`
	Prefix      string        `yaml:"prefix"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ElectionPrefix is the key prefix of the coordinator election.
	ElectionPrefix string `yaml:"election_prefix"`

	// SessionTTL is the lease TTL in seconds backing coordinator leadership.
	SessionTTL int `yaml:"session_ttl"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Instance:         "default",
		SourceTable:      "metadata",
		ReplicationTable: "replication",
		MaxQueueSize:     DefaultMaxQueueSize,
		PollInterval:     DefaultPollInterval,
		ScanParallelism:  DefaultScanParallelism,
		Table: TableConfig{
			Driver: "postgres",
		},
		Queue: QueueConfig{
			Backend:  QueueBackendEtcd,
			SQLTable: "replication_work_queue",
			Etcd: EtcdConfig{
				Namespace:   "replication",
				DialTimeout:    10 * time.Second,
				ElectionPrefix: "replication/coordinator/",
				SessionTTL:     15,
			},
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is not
// empty) and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Instance = getenvDefault("REPLICATION_INSTANCE", c.Instance)
	c.SourceTable = getenvDefault("REPLICATION_SOURCE_TABLE", c.SourceTable)
	c.ReplicationTable = getenvDefault("REPLICATION_TABLE", c.ReplicationTable)
	c.Table.Driver = getenvDefault("TABLE_DRIVER", c.Table.Driver)
	c.Table.DSN = getenvDefault("TABLE_DSN", c.Table.DSN)
	c.Queue.Backend = getenvDefault("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Etcd.Namespace = getenvDefault("ETCD_NAMESPACE", c.Queue.Etcd.Namespace)
	c.Queue.Etcd.Username = getenvDefault("ETCD_USERNAME", c.Queue.Etcd.Username)
	c.Queue.Etcd.Password = getenvDefault("ETCD_PASSWORD", c.Queue.Etcd.Password)
	c.Logging.Format = getenvDefault("LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getenvDefault("LOG_LEVEL", c.Logging.Level)
	c.Metrics.Addr = getenvDefault("METRICS_ADDR", c.Metrics.Addr)

	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.Queue.Etcd.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true"
	}

	var err error
	if c.MaxQueueSize, err = getenvInt("REPLICATION_MAX_QUEUE_SIZE", c.MaxQueueSize); err != nil {
		return err
	}
	if c.ScanParallelism, err = getenvInt("REPLICATION_SCAN_PARALLELISM", c.ScanParallelism); err != nil {
		return err
	}
	if c.Queue.Etcd.SessionTTL, err = getenvInt("ETCD_SESSION_TTL", c.Queue.Etcd.SessionTTL); err != nil {
		return err
	}
	if v := os.Getenv("REPLICATION_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REPLICATION_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	return nil
}

// Validate checks the configuration for values the coordinator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Instance == "" {
		errs = append(errs, errors.New("instance cannot be empty"))
	}
	if c.SourceTable == "" {
		errs = append(errs, errors.New("source_table cannot be empty"))
	}
	if c.ReplicationTable == "" {
		errs = append(errs, errors.New("replication_table cannot be empty"))
	}
	if c.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("max_queue_size must not be negative (got: %d)", c.MaxQueueSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive (got: %s)", c.PollInterval))
	}
	if c.ScanParallelism < 1 {
		errs = append(errs, fmt.Errorf("scan_parallelism must be at least 1 (got: %d)", c.ScanParallelism))
	}
	switch c.Queue.Backend {
	case QueueBackendEtcd:
		if len(c.Queue.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("queue.etcd.endpoints must be set for the etcd backend"))
		}
		if c.Queue.Etcd.SessionTTL < 1 {
			errs = append(errs, fmt.Errorf("queue.etcd.session_ttl must be at least 1 second (got: %d)", c.Queue.Etcd.SessionTTL))
		}
	case QueueBackendSQL, QueueBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
