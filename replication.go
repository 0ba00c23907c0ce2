// Package replication holds the shared types of the replication work-assignment coordinator.
//
// The coordinator converts closed-file markers into replication status records and
// dispatches the records that still need work onto a shared work queue, bounding
// and deduplicating in-flight work.
package replication

import "context"

// Coordinator runs the status projection and work assignment loops.
type Coordinator interface {
	// Run blocks until ctx is cancelled, leadership is lost or a fatal error occurs.
	//
	// Run returns:
	// - nil when ctx is cancelled
	// - ErrLeadershipLost when Leadership reports the process is no longer coordinator
	// - ErrQueuedWorkInitialized (wrapped) when recovery state is initialized twice
	Run(ctx context.Context) error
}
