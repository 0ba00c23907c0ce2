// Package lifecycle runs one replication coordinator per leadership term.
// The Manager campaigns for the coordinator role, runs a fresh Coordinator
// while the term lasts and campaigns again once leadership is lost.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getpup/pupsourcing-replication"
	"github.com/getpup/pupsourcing/es"
	"github.com/jonboulle/clockwork"
)

// Term is one leadership term won by a campaign.
type Term interface {
	replication.Leadership

	// Done is closed when the term ends without a resignation.
	Done() <-chan struct{}

	// Resign gives up the coordinator role.
	Resign(ctx context.Context) error
}

// Elector campaigns for the coordinator role of a replication domain.
type Elector interface {
	// Campaign blocks until this process holds the coordinator role or ctx is done.
	Campaign(ctx context.Context) (Term, error)
}

// CoordinatorFactory builds the Coordinator for one term.
// A Coordinator must not be reused across terms.
type CoordinatorFactory func(term Term) (replication.Coordinator, error)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Elector wins leadership terms (default: Single()).
	Elector Elector

	// NewCoordinator builds the coordinator of each term (required).
	NewCoordinator CoordinatorFactory

	// Backoff paces campaign retries after failures (default: exponential, never gives up).
	Backoff backoff.BackOff

	// ResignTimeout bounds the resignation at the end of a term (default: 5s).
	ResignTimeout time.Duration

	// Clock drives the retry waits (default: real clock).
	Clock clockwork.Clock

	// Logger is for observability (optional).
	Logger es.Logger
}

// Manager manages leadership terms for a single coordinator process.
type Manager struct {
	config Config
	terms  atomic.Int64
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values if zero.
func New(cfg Config) *Manager {
	if cfg.Elector == nil {
		cfg.Elector = Single()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = newCampaignBackoff()
	}
	if cfg.ResignTimeout == 0 {
		cfg.ResignTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Manager{
		config: cfg,
	}
}

// Run campaigns and coordinates until ctx is cancelled or a coordinator fails fatally.
// Returns nil when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.config.NewCoordinator == nil {
		return errors.New("coordinator factory is required")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		term, err := m.config.Elector.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !m.wait(ctx, err) {
				return nil
			}
			continue
		}
		m.config.Backoff.Reset()

		if err := m.runTerm(ctx, term); err != nil {
			return err
		}
	}
}

// Terms returns the number of terms won so far.
func (m *Manager) Terms() int {
	return int(m.terms.Load())
}

// runTerm coordinates for one term. A nil return means the caller may campaign again.
func (m *Manager) runTerm(ctx context.Context, term Term) error {
	n := m.terms.Add(1)
	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "elected replication coordinator", "term", n)
	}

	defer m.resign(ctx, term, n)

	coord, err := m.config.NewCoordinator(term)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	err = coord.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, replication.ErrLeadershipLost):
		if m.config.Logger != nil {
			m.config.Logger.Info(ctx, "replication coordinator term ended", "term", n)
		}
		return nil
	default:
		return err
	}
}

func (m *Manager) resign(ctx context.Context, term Term, n int64) {
	resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.ResignTimeout)
	defer cancel()

	if err := term.Resign(resignCtx); err != nil && m.config.Logger != nil {
		m.config.Logger.Error(ctx, "failed to resign coordinator role", "term", n, "error", err)
	}
}

// wait logs a failed campaign and sleeps for the next backoff delay.
// Returns false when ctx is done first.
func (m *Manager) wait(ctx context.Context, err error) bool {
	delay := m.config.Backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.config.ResignTimeout
	}
	if m.config.Logger != nil {
		m.config.Logger.Error(ctx, "campaign failed, retrying", "delay", delay, "error", err)
	}

	select {
	case <-ctx.Done():
		return false
	case <-m.config.Clock.After(delay):
		return true
	}
}

func newCampaignBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // never stop
	b.Reset()
	return b
}
