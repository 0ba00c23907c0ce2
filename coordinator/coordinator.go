// Package coordinator implements the producer side of replication work assignment:
// the Projector turning closed-file markers into status records, the Assigner
// dispatching work onto the work queue, and the Coordinator running both loops.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing-replication/internal/logging"
	"github.com/getpup/pupsourcing-replication/metrics"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Projector runs the status projection loop (required).
	Projector *Projector

	// Assigner runs the work assignment loop (required).
	Assigner *Assigner

	// Leadership is checked at the top of every cycle (default: replication.AlwaysCoordinator).
	Leadership replication.Leadership

	// PollInterval is the pause between two cycles of each loop (default: 5s).
	PollInterval time.Duration

	// Clock drives the pause between cycles (default: real clock).
	Clock clockwork.Clock

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics collects loop metrics (optional).
	Metrics *metrics.Collector
}

// Coordinator runs the projection and assignment loops as two goroutines sharing
// only the table service. Each loop body is sequential.
// A Coordinator serves one leadership term: build a new one after Run returns.
type Coordinator struct {
	config Config
}

var _ replication.Coordinator = (*Coordinator)(nil)

// New creates a new Coordinator with the given configuration.
// Applies default values if zero.
func New(cfg Config) *Coordinator {
	if cfg.Leadership == nil {
		cfg.Leadership = replication.AlwaysCoordinator
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Coordinator{config: cfg}
}

// Run blocks until ctx is cancelled, leadership is lost or the assigner fails fatally.
// It returns nil when ctx is cancelled, replication.ErrLeadershipLost when leadership
// is lost, and a wrapped replication.ErrQueuedWorkInitialized on lifecycle misuse.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "starting replication coordinator", "pollInterval", c.config.PollInterval)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.loop(gctx, metrics.ComponentProjector, c.projectorCycle)
	})
	g.Go(func() error {
		return c.loop(gctx, metrics.ComponentAssigner, c.assignerCycle)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		if c.config.Logger != nil {
			c.config.Logger.Info(ctx, "replication coordinator stopped")
		}
		return nil
	}
	if err != nil && c.config.Logger != nil {
		c.config.Logger.Error(ctx, "replication coordinator stopped", "error", err)
	}
	return err
}

// loop runs cycle until ctx is done or the process stops being the coordinator.
// Leadership is checked before every cycle; a running cycle is never interrupted.
func (c *Coordinator) loop(ctx context.Context, component string, cycle func(ctx context.Context) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		leader := c.config.Leadership.IsCoordinator(ctx)
		if c.config.Metrics != nil {
			c.config.Metrics.SetLeader(leader)
		}
		if !leader {
			if c.config.Logger != nil {
				c.config.Logger.Info(ctx, "no longer the replication coordinator, stopping", "component", component)
			}
			return replication.ErrLeadershipLost
		}

		cycleCtx := logging.WithCorrelationID(ctx, uuid.NewString())
		start := c.config.Clock.Now()
		if err := cycle(cycleCtx); err != nil {
			return fmt.Errorf("%s cycle failed: %w", component, err)
		}
		if c.config.Metrics != nil {
			c.config.Metrics.ObserveCycleDuration(component, c.config.Clock.Since(start).Seconds())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.config.Clock.After(c.config.PollInterval):
		}
	}
}

func (c *Coordinator) projectorCycle(ctx context.Context) error {
	report := c.config.Projector.Run(ctx)
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "status projection finished",
			"outcome", report.Outcome,
			"markers", report.Markers,
			"projected", report.Projected,
			"rejected", report.Rejected,
			"malformed", report.Malformed)
	}
	return nil
}

func (c *Coordinator) assignerCycle(ctx context.Context) error {
	report, err := c.config.Assigner.RunCycle(ctx)
	if err != nil {
		return err
	}
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "work assignment finished",
			"outcome", report.Work.Outcome,
			"maxQueueSize", report.MaxQueueSize,
			"scanned", report.Work.Scanned,
			"dispatched", report.Work.Dispatched,
			"alreadyQueued", report.Work.AlreadyQueued,
			"dispatchFailures", report.Work.DispatchFailures,
			"finished", report.Cleanup.Removed,
			"lookupErrors", report.Cleanup.LookupErrors)
	}
	return nil
}
