package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing-replication/config"
	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/metrics"
	"github.com/getpup/pupsourcing-replication/status"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing-replication/workqueue"
	"github.com/getpup/pupsourcing/es"
)

// AssignerConfig holds configuration for the Assigner.
type AssignerConfig struct {
	// Tables is the table service holding the replication table (required).
	Tables table.Service

	// Queue is the work queue items are dispatched onto (required).
	Queue workqueue.Queue

	// ReplicationTable holds the work entries (default: table.DefaultReplicationTable).
	ReplicationTable string

	// MaxQueueSize is re-read at the start of every CreateWork pass
	// (default: config.Static(config.DefaultMaxQueueSize)).
	MaxQueueSize config.MaxQueueSizeSource

	// ScanParallelism is the read parallelism of the work scan (default: 4).
	ScanParallelism int

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics collects assignment metrics (optional).
	Metrics *metrics.Collector
}

// CycleReport summarizes one assignment cycle.
type CycleReport struct {
	// MaxQueueSize is the ceiling in effect during the cycle.
	MaxQueueSize int

	// Work is the result of the dispatch pass.
	Work replication.WorkReport

	// Cleanup is the result of the reconciliation pass.
	Cleanup replication.CleanupReport
}

// Assigner dispatches work entries that still need replication onto the work queue.
// It tracks dispatched keys in the queued work set, which bounds and deduplicates
// in-flight work. The set is owned by the goroutine calling RunCycle; an Assigner
// must not be used concurrently.
type Assigner struct {
	config       AssignerConfig
	queued       map[replication.WorkKey]struct{} // nil until recovered from the queue
	maxQueueSize int
}

// NewAssigner creates a new Assigner with the given configuration.
// Applies default values if zero.
func NewAssigner(cfg AssignerConfig) *Assigner {
	if cfg.ReplicationTable == "" {
		cfg.ReplicationTable = table.DefaultReplicationTable
	}
	if cfg.MaxQueueSize == nil {
		cfg.MaxQueueSize = config.Static(config.DefaultMaxQueueSize)
	}
	if cfg.ScanParallelism == 0 {
		cfg.ScanParallelism = config.DefaultScanParallelism
	}

	return &Assigner{config: cfg}
}

// RunCycle recovers the queued work set on first use, dispatches new work under
// the current ceiling and reconciles finished work, in that order.
// Transient failures are logged and reported; the only returned error is
// replication.ErrQueuedWorkInitialized, which is fatal.
func (a *Assigner) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	if !a.Initialized() {
		if err := a.InitializeQueuedWork(ctx); err != nil {
			report.MaxQueueSize = a.refreshMaxQueueSize(ctx)
			if errors.Is(err, replication.ErrQueuedWorkInitialized) {
				return report, err
			}
			logging.Warn(ctx, a.config.Logger, "failed to recover queued work, retrying next cycle", "error", err)
			report.Work = replication.WorkReport{Outcome: replication.OutcomeFailed, Err: err}
			a.recordWork(report.Work)
			return report, nil
		}
	}

	report.Work = a.CreateWork(ctx)
	report.MaxQueueSize = a.maxQueueSize
	report.Cleanup = a.CleanupFinishedWork(ctx)
	return report, nil
}

// refreshMaxQueueSize reads the ceiling from the hot-reloadable source.
func (a *Assigner) refreshMaxQueueSize(ctx context.Context) int {
	a.maxQueueSize = a.config.MaxQueueSize.MaxQueueSize(ctx)
	if a.config.Metrics != nil {
		a.config.Metrics.SetMaxQueueSize(a.maxQueueSize)
	}
	return a.maxQueueSize
}

// Initialized reports whether the queued work set has been recovered.
func (a *Assigner) Initialized() bool {
	return a.queued != nil
}

// InitializeQueuedWork recovers the queued work set from the keys currently in the queue,
// so that work queued by a previous coordinator is not dispatched again.
// Returns replication.ErrQueuedWorkInitialized if the set was already recovered.
// A failed listing leaves the set uninitialized.
func (a *Assigner) InitializeQueuedWork(ctx context.Context) error {
	if a.queued != nil {
		return fmt.Errorf("failed to initialize queued work: %w", replication.ErrQueuedWorkInitialized)
	}

	keys, err := a.config.Queue.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queued work: %w", err)
	}

	queued := make(map[replication.WorkKey]struct{}, len(keys))
	for _, k := range keys {
		queued[replication.WorkKey(k)] = struct{}{}
	}
	a.queued = queued

	if a.config.Logger != nil {
		a.config.Logger.Info(ctx, "recovered queued work", "queued", len(queued))
	}
	if a.config.Metrics != nil {
		a.config.Metrics.SetQueuedWork(len(queued))
	}
	return nil
}

// QueuedWork returns the keys of the queued work set in sorted order.
func (a *Assigner) QueuedWork() []replication.WorkKey {
	keys := make([]replication.WorkKey, 0, len(a.queued))
	for k := range a.queued {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CreateWork scans the work section and dispatches every entry that requires work
// and is not queued yet. The ceiling is re-read first; the pass stops as soon as
// the queued work set holds more than the ceiling.
func (a *Assigner) CreateWork(ctx context.Context) replication.WorkReport {
	var report replication.WorkReport
	maxQueueSize := a.refreshMaxQueueSize(ctx)
	if a.queued == nil {
		report.Outcome = replication.OutcomeFailed
		report.Err = replication.ErrQueuedWorkNotInitialized
		a.recordWork(report)
		return report
	}

	opts := table.WorkSection.ScanOptions(a.config.ScanParallelism)
	scanner, err := a.config.Tables.Scan(ctx, a.config.ReplicationTable, opts)
	if err != nil {
		report.Err = err
		if errors.Is(err, table.ErrTableNotFound) {
			report.Outcome = replication.OutcomeNotYetAvailable
			if a.config.Logger != nil {
				a.config.Logger.Info(ctx, "replication table not yet available, retrying next cycle", "table", a.config.ReplicationTable)
			}
		} else {
			report.Outcome = replication.OutcomeFailed
			if a.config.Logger != nil {
				a.config.Logger.Error(ctx, "failed to scan work entries", "table", a.config.ReplicationTable, "error", err)
			}
		}
		a.recordWork(report)
		return report
	}
	defer scanner.Close()

	for {
		if len(a.queued) > maxQueueSize {
			logging.Warn(ctx, a.config.Logger, "queued work exceeds max queue size, not queueing more work",
				"queued", len(a.queued), "max", maxQueueSize)
			report.Outcome = replication.OutcomeBackpressure
			a.recordWork(report)
			return report
		}
		if !scanner.Next(ctx) {
			break
		}

		entry := scanner.Entry()
		report.Scanned++

		file := table.WorkSection.File(entry.Key)
		qualifier := table.WorkSection.Qualifier(entry.Key)

		st, err := status.Decode(entry.Value)
		if err != nil {
			report.Malformed++
			logging.Warn(ctx, a.config.Logger, "could not parse work status, skipping", "file", file, "qualifier", qualifier, "error", err)
			continue
		}
		if !status.IsWorkRequired(st) {
			continue
		}

		key := replication.NewWorkKey(file, qualifier)
		if _, ok := a.queued[key]; ok {
			report.AlreadyQueued++
			continue
		}

		if err := a.config.Queue.Add(ctx, string(key), file); err != nil {
			report.DispatchFailures++
			logging.Warn(ctx, a.config.Logger, "failed to queue work, retrying next pass", "file", file, "key", key, "error", err)
			continue
		}
		a.queued[key] = struct{}{}
		report.Dispatched++

		if a.config.Logger != nil {
			a.config.Logger.Debug(ctx, "queued work", "file", file, "key", key, "status", st.String())
		}
	}

	if err := scanner.Err(); err != nil {
		report.Outcome = replication.OutcomeFailed
		report.Err = err
		if a.config.Logger != nil {
			a.config.Logger.Error(ctx, "work entry scan failed", "table", a.config.ReplicationTable, "error", err)
		}
	} else {
		report.Outcome = replication.OutcomeCompleted
	}

	a.recordWork(report)
	return report
}

// CleanupFinishedWork removes keys whose queue item is gone from the queued work set.
// Keys whose lookup fails are kept and checked again on the next cycle.
func (a *Assigner) CleanupFinishedWork(ctx context.Context) replication.CleanupReport {
	var report replication.CleanupReport

	for _, key := range a.QueuedWork() {
		if ctx.Err() != nil {
			break
		}
		report.Checked++

		_, found, err := a.config.Queue.Get(ctx, string(key))
		if err != nil {
			report.LookupErrors++
			logging.Warn(ctx, a.config.Logger, "failed to look up queued work, keeping it", "key", key, "error", err)
			continue
		}
		if found {
			continue
		}

		delete(a.queued, key)
		report.Removed++
		if a.config.Logger != nil {
			a.config.Logger.Debug(ctx, "queued work finished", "key", key)
		}
	}

	if a.config.Metrics != nil {
		a.config.Metrics.AddWorkFinished(report.Removed)
		a.config.Metrics.AddQueueLookupErrors(report.LookupErrors)
		a.config.Metrics.SetQueuedWork(len(a.queued))
	}
	return report
}

func (a *Assigner) recordWork(report replication.WorkReport) {
	if a.config.Metrics == nil {
		return
	}
	a.config.Metrics.AddWorkDispatched(report.Dispatched)
	a.config.Metrics.AddDispatchFailures(report.DispatchFailures)
	a.config.Metrics.AddMalformedRecords(metrics.ComponentAssigner, report.Malformed)
	a.config.Metrics.IncCycle(metrics.ComponentAssigner, string(report.Outcome))
	a.config.Metrics.SetQueuedWork(len(a.queued))
}
