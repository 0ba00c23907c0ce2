// Package workqueue defines the distributed work queue the assigner dispatches
// replication work onto. Items are keyed by work key and carry the full file
// path; an item disappears once a worker has finished it.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey indicates a work key that cannot name a queue item.
var ErrInvalidKey = errors.New("invalid work key")

// Queue is the producer side of the work queue.
// Implementations must be safe for concurrent access.
type Queue interface {
	// ListQueued returns the keys of every item currently in the queue.
	ListQueued(ctx context.Context) ([]string, error)

	// Add enqueues an item under key with the full file path as payload.
	// Adding an existing key overwrites its payload.
	Add(ctx context.Context, key, path string) error

	// Get returns the payload of the item under key.
	// found is false when the item is no longer queued.
	Get(ctx context.Context, key string) (path string, found bool, err error)
}

// Consumer is the worker side of the work queue.
type Consumer interface {
	// Finish removes a processed item. Finishing an absent item is not an error.
	Finish(ctx context.Context, key string) error
}

// ValidateKey checks that key can be used as a queue item name.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidKey, key)
	}
	return nil
}
