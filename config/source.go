package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing/es"
	"gopkg.in/yaml.v3"
)

// MaxQueueSizeSource provides the in-flight ceiling of the work queue.
// The assigner asks on every cycle, so implementations may change their answer.
type MaxQueueSizeSource interface {
	MaxQueueSize(ctx context.Context) int
}

// Static is a MaxQueueSizeSource that never changes.
type Static int

// MaxQueueSize returns the static value.
func (s Static) MaxQueueSize(ctx context.Context) int {
	return int(s)
}

// FileSource reads max_queue_size from a YAML file, re-reading it when the
// file's modification time changes. Read or parse failures keep the last good value.
type FileSource struct {
	path   string
	logger es.Logger

	mu      sync.Mutex
	value   int
	modTime time.Time
}

// NewFileSource creates a source for the YAML file at path.
// initial is returned until the file has been read successfully.
// logger may be nil.
func NewFileSource(path string, initial int, logger es.Logger) *FileSource {
	return &FileSource{
		path:   path,
		logger: logger,
		value:  initial,
	}
}

// MaxQueueSize returns the current ceiling.
func (s *FileSource) MaxQueueSize(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		logging.Warn(ctx, s.logger, "cannot stat config file, keeping max queue size",
			"path", s.path, "max_queue_size", s.value, "error", err)
		return s.value
	}
	if info.ModTime().Equal(s.modTime) {
		return s.value
	}

	value, err := s.read()
	if err != nil {
		logging.Warn(ctx, s.logger, "cannot reload config file, keeping max queue size",
			"path", s.path, "max_queue_size", s.value, "error", err)
		return s.value
	}

	if value != s.value && s.logger != nil {
		s.logger.Info(ctx, "max queue size changed", "from", s.value, "to", value)
	}
	s.value = value
	s.modTime = info.ModTime()
	return s.value
}

func (s *FileSource) read() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, err
	}

	var doc struct {
		MaxQueueSize *int `yaml:"max_queue_size"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, err
	}
	if doc.MaxQueueSize == nil {
		return DefaultMaxQueueSize, nil
	}
	if *doc.MaxQueueSize < 0 {
		return 0, fmt.Errorf("max_queue_size must not be negative (got: %d)", *doc.MaxQueueSize)
	}
	return *doc.MaxQueueSize, nil
}
