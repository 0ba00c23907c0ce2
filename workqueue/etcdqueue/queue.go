// Package etcdqueue implements the work queue on etcd.
// Every queued item is a key under the queue prefix; the key suffix is the
// work key and the value the full file path. Workers delete the key when done.
package etcdqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/getpup/pupsourcing-replication/workqueue"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultPrefix is the key prefix of queued items.
const DefaultPrefix = "replication/workqueue/"

// Config configures the etcd work queue.
type Config struct {
	// Prefix is prepended to every work key. Default: DefaultPrefix.
	Prefix string

	// LinearizableGet makes Get read through the raft leader.
	// By default Get is served by the contacted member and may be slightly stale,
	// which only delays reconciliation of a finished item by a cycle.
	LinearizableGet bool
}

// Queue is an etcd implementation of workqueue.Queue and workqueue.Consumer.
type Queue struct {
	kv     clientv3.KV
	prefix string
	getOps []clientv3.OpOption
}

// New creates a queue on the given KV, typically (*clientv3.Client).KV.
func New(kv clientv3.KV, config Config) *Queue {
	prefix := config.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var getOps []clientv3.OpOption
	if !config.LinearizableGet {
		getOps = append(getOps, clientv3.WithSerializable())
	}

	return &Queue{
		kv:     kv,
		prefix: prefix,
		getOps: getOps,
	}
}

// ListQueued returns every queued key. The listing is linearizable.
func (q *Queue) ListQueued(ctx context.Context) ([]string, error) {
	resp, err := q.kv.Get(ctx, q.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list queued work: %w", err)
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), q.prefix))
	}
	return keys, nil
}

// Add puts the item under the queue prefix.
func (q *Queue) Add(ctx context.Context, key, path string) error {
	if err := workqueue.ValidateKey(key); err != nil {
		return err
	}
	if _, err := q.kv.Put(ctx, q.prefix+key, path); err != nil {
		return fmt.Errorf("failed to queue %s: %w", key, err)
	}
	return nil
}

// Get returns the file path of a queued item.
func (q *Queue) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := q.kv.Get(ctx, q.prefix+key, q.getOps...)
	if err != nil {
		return "", false, fmt.Errorf("failed to read queued work %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Finish deletes a queued item.
func (q *Queue) Finish(ctx context.Context, key string) error {
	if _, err := q.kv.Delete(ctx, q.prefix+key); err != nil {
		return fmt.Errorf("failed to finish %s: %w", key, err)
	}
	return nil
}
