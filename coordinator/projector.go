package coordinator

import (
	"context"
	"errors"

	"github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/metrics"
	"github.com/getpup/pupsourcing-replication/status"
	"github.com/getpup/pupsourcing-replication/table"
	"github.com/getpup/pupsourcing/es"
)

// ProjectorConfig holds configuration for the Projector.
type ProjectorConfig struct {
	// Tables is the table service holding both tables (required).
	Tables table.Service

	// SourceTable holds the closed-file markers (default: table.DefaultSourceTable).
	SourceTable string

	// ReplicationTable receives the status records (default: table.DefaultReplicationTable).
	ReplicationTable string

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics collects projection metrics (optional).
	Metrics *metrics.Collector
}

// Projector turns closed-file markers of the source table into status records
// of the replication table. Markers are never removed, so every pass rewrites
// the same records; the write is idempotent.
type Projector struct {
	config  ProjectorConfig
	created bool // replication table created by an earlier pass
}

// NewProjector creates a new Projector with the given configuration.
// Applies default table names if empty.
func NewProjector(cfg ProjectorConfig) *Projector {
	if cfg.SourceTable == "" {
		cfg.SourceTable = table.DefaultSourceTable
	}
	if cfg.ReplicationTable == "" {
		cfg.ReplicationTable = table.DefaultReplicationTable
	}

	return &Projector{config: cfg}
}

// Run performs one pass over the closed-file markers.
// Per-marker problems are logged and counted; they never stop the pass.
func (p *Projector) Run(ctx context.Context) replication.ProjectionReport {
	var report replication.ProjectionReport

	scanner, err := p.config.Tables.Scan(ctx, p.config.SourceTable, table.ClosedFileSection.ScanOptions())
	if err != nil {
		return p.unavailable(ctx, report, "failed to scan closed file markers", p.config.SourceTable, err)
	}
	defer scanner.Close()

	var writer table.BatchWriter
	defer func() {
		if writer == nil {
			return
		}
		if err := writer.Close(ctx); err != nil {
			logging.Warn(ctx, p.config.Logger, "failed to close status writer", "table", p.config.ReplicationTable, "error", err)
		}
	}()

	for scanner.Next(ctx) {
		entry := scanner.Entry()
		report.Markers++

		if writer == nil {
			writer, err = p.openWriter(ctx)
			if err != nil {
				return p.unavailable(ctx, report, "failed to open status writer", p.config.ReplicationTable, err)
			}
		}

		file, ok := table.ClosedFileSection.File(entry.Key)
		if !ok {
			report.Malformed++
			logging.Warn(ctx, p.config.Logger, "skipping entry outside of the closed file section", "row", entry.Key.Row, "family", entry.Key.Family)
			continue
		}
		tableID := table.ClosedFileSection.TableID(entry.Key)

		st, err := status.Decode(entry.Value)
		if err != nil {
			report.Malformed++
			logging.Warn(ctx, p.config.Logger, "could not parse closed file status, skipping", "file", file, "tableID", tableID, "error", err)
			continue
		}

		if p.config.Logger != nil {
			p.config.Logger.Debug(ctx, "creating replication status record", "file", file, "tableID", tableID, "status", st.String())
		}

		mutation := table.StatusSection.Mutation(file, tableID, entry.Value)
		if err := writer.AddMutation(ctx, mutation); err != nil {
			report.Rejected++
			logging.Warn(ctx, p.config.Logger, "status record rejected, marker kept for retry", "file", file, "tableID", tableID, "error", err)
			continue
		}
		if err := writer.Flush(ctx); err != nil {
			report.Rejected++
			logging.Warn(ctx, p.config.Logger, "failed to flush status record, marker kept for retry", "file", file, "tableID", tableID, "error", err)
			continue
		}
		report.Projected++
	}

	if err := scanner.Err(); err != nil {
		report.Outcome = replication.OutcomeFailed
		report.Err = err
		if p.config.Logger != nil {
			p.config.Logger.Error(ctx, "closed file marker scan failed", "table", p.config.SourceTable, "error", err)
		}
	} else {
		report.Outcome = replication.OutcomeCompleted
	}

	p.record(report)
	return report
}

// openWriter ensures the replication table exists and opens a writer on it.
// The table is created once; later passes go straight to the writer.
func (p *Projector) openWriter(ctx context.Context) (table.BatchWriter, error) {
	if !p.created {
		if err := p.config.Tables.Create(ctx, p.config.ReplicationTable); err != nil {
			return nil, err
		}
		p.created = true
	}
	return p.config.Tables.NewBatchWriter(ctx, p.config.ReplicationTable)
}

// unavailable ends the pass after a scanner or writer could not be opened.
// A missing table is expected while the cluster starts and is not an error.
func (p *Projector) unavailable(ctx context.Context, report replication.ProjectionReport, msg, tableName string, err error) replication.ProjectionReport {
	report.Err = err
	if errors.Is(err, table.ErrTableNotFound) {
		report.Outcome = replication.OutcomeNotYetAvailable
		if p.config.Logger != nil {
			p.config.Logger.Info(ctx, "table not yet available, retrying next cycle", "table", tableName)
		}
	} else {
		report.Outcome = replication.OutcomeFailed
		if p.config.Logger != nil {
			p.config.Logger.Error(ctx, msg, "table", tableName, "error", err)
		}
	}

	p.record(report)
	return report
}

func (p *Projector) record(report replication.ProjectionReport) {
	if p.config.Metrics == nil {
		return
	}
	p.config.Metrics.AddMarkersProjected(report.Projected)
	p.config.Metrics.AddMutationsRejected(report.Rejected)
	p.config.Metrics.AddMalformedRecords(metrics.ComponentProjector, report.Malformed)
	p.config.Metrics.IncCycle(metrics.ComponentProjector, string(report.Outcome))
}
