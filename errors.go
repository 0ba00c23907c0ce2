package replication

import "errors"

var (
	// ErrQueuedWorkInitialized indicates an attempt to recover the QueuedWorkSet a second time.
	// This is a lifecycle misuse and must stop the coordinator.
	ErrQueuedWorkInitialized = errors.New("queued work already initialized")

	// ErrQueuedWorkNotInitialized indicates work was scanned before the QueuedWorkSet was recovered.
	ErrQueuedWorkNotInitialized = errors.New("queued work not initialized")

	// ErrLeadershipLost indicates the process no longer holds coordinator responsibility.
	// Callers should stop the coordinator and campaign again.
	ErrLeadershipLost = errors.New("coordinator leadership lost")
)
