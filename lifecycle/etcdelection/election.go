// Package etcdelection elects the replication coordinator through an etcd election.
// Leadership is bound to a lease kept alive by a session; the term ends when the
// session expires, for example after a network partition.
package etcdelection

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/getpup/pupsourcing-replication/lifecycle"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	DefaultPrefix     = "replication/coordinator/"
	DefaultSessionTTL = 15
)

// Config configures the election.
type Config struct {
	// Prefix is the election key prefix (default: DefaultPrefix).
	Prefix string

	// Candidate is the value published by the leader (default: host name).
	Candidate string

	// SessionTTL is the lease TTL in seconds (default: DefaultSessionTTL).
	SessionTTL int
}

// Elector campaigns through concurrency.Election.
type Elector struct {
	client *clientv3.Client
	config Config
}

var _ lifecycle.Elector = (*Elector)(nil)

// New creates an Elector. Applies default values if zero.
func New(client *clientv3.Client, cfg Config) *Elector {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.Candidate == "" {
		cfg.Candidate, _ = os.Hostname()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Elector{client: client, config: cfg}
}

// Campaign creates a session and blocks until it wins the election.
// The session is closed if the campaign fails.
func (e *Elector) Campaign(ctx context.Context) (lifecycle.Term, error) {
	session, err := concurrency.NewSession(e.client, concurrency.WithTTL(e.config.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	election := concurrency.NewElection(session, e.config.Prefix)
	if err := election.Campaign(ctx, e.config.Candidate); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to campaign for %s: %w", e.config.Prefix, err)
	}

	return &term{session: session, election: election}, nil
}

// Leader returns the candidate currently holding the coordinator role.
func (e *Elector) Leader(ctx context.Context) (string, error) {
	resp, err := e.client.Get(ctx, e.config.Prefix, clientv3.WithFirstCreate()...)
	if err != nil {
		return "", fmt.Errorf("failed to get election leader: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", concurrency.ErrElectionNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}

type term struct {
	session  *concurrency.Session
	election *concurrency.Election
}

// IsCoordinator reports false once the session lease is gone.
func (t *term) IsCoordinator(ctx context.Context) bool {
	select {
	case <-t.session.Done():
		return false
	default:
		return true
	}
}

func (t *term) Done() <-chan struct{} {
	return t.session.Done()
}

func (t *term) Resign(ctx context.Context) error {
	var resignErr error
	select {
	case <-t.session.Done():
	default:
		if err := t.election.Resign(ctx); err != nil {
			resignErr = fmt.Errorf("failed to resign: %w", err)
		}
	}
	if err := t.session.Close(); err != nil && resignErr == nil {
		resignErr = fmt.Errorf("failed to close etcd session: %w", err)
	}
	return resignErr
}
