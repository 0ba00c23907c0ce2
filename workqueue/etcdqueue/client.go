package etcdqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultKeepAliveTimeout  = 5 * time.Second
	DefaultKeepAliveInterval = 10 * time.Second
)

// ClientConfig configures the etcd connection.
type ClientConfig struct {
	// Endpoints lists the etcd cluster members.
	Endpoints []string

	// Namespace prefixes every key written through the client.
	// Several replication domains may share one cluster under different namespaces.
	Namespace string

	// Username and Password are optional.
	Username string
	Password string

	DialTimeout       time.Duration
	KeepAliveTimeout  time.Duration
	KeepAliveInterval time.Duration
}

// Normalize trims the endpoints and turns the namespace into a "/"-terminated prefix.
func (c *ClientConfig) Normalize() {
	for i, e := range c.Endpoints {
		c.Endpoints[i] = strings.Trim(e, " /")
	}
	if ns := strings.Trim(c.Namespace, " /"); ns != "" {
		c.Namespace = ns + "/"
	} else {
		c.Namespace = ""
	}
}

// Validate checks that the configuration can be used to connect.
func (c *ClientConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are not set")
	}
	for _, e := range c.Endpoints {
		if e == "" {
			return fmt.Errorf("etcd endpoint cannot be empty")
		}
	}
	return nil
}

// Dial connects to etcd and returns a client whose KV, Watcher and Lease are scoped to the namespace.
// The caller closes the client.
func Dial(ctx context.Context, config ClientConfig) (*clientv3.Client, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if config.KeepAliveInterval == 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}

	c, err := clientv3.New(clientv3.Config{
		Context:              context.Background(), // the client outlives the dial context
		Endpoints:            config.Endpoints,
		DialTimeout:          config.DialTimeout,
		DialKeepAliveTimeout: config.KeepAliveTimeout,
		DialKeepAliveTime:    config.KeepAliveInterval,
		Username:             config.Username,
		Password:             config.Password,
		PermitWithoutStream:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	if config.Namespace != "" {
		c.KV = namespace.NewKV(c.KV, config.Namespace)
		c.Watcher = namespace.NewWatcher(c.Watcher, config.Namespace)
		c.Lease = namespace.NewLease(c.Lease, config.Namespace)
	}

	// clientv3.New does not block; check that a member answers.
	statusCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if _, err := c.Status(statusCtx, config.Endpoints[0]); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to reach etcd at %s: %w", config.Endpoints[0], err)
	}

	return c, nil
}
