package replication

import (
	"context"
	"path"
	"strings"
)

// Instance names a replication domain. Exactly one coordinator runs per instance.
type Instance string

// WorkKeySeparator joins the file name and the target qualifier of a WorkKey.
const WorkKeySeparator = "|"

// WorkKey identifies a dispatched unit of replication work.
// It is the name of the work queue node and the dedup key in the QueuedWorkSet.
type WorkKey string

// NewWorkKey builds the WorkKey for a file and a target qualifier.
// Only the base name of the file is used, the qualifier tells targets apart.
func NewWorkKey(file, qualifier string) WorkKey {
	return WorkKey(path.Base(file) + WorkKeySeparator + qualifier)
}

// Filename returns the file name part of the key.
func (k WorkKey) Filename() string {
	filename, _, _ := strings.Cut(string(k), WorkKeySeparator)
	return filename
}

// Qualifier returns the target qualifier part of the key, or "" if the key has no separator.
func (k WorkKey) Qualifier() string {
	_, qualifier, _ := strings.Cut(string(k), WorkKeySeparator)
	return qualifier
}

// Outcome classifies how a single pass over a table ended.
type Outcome string

const (
	// OutcomeCompleted indicates the pass visited every entry in range.
	OutcomeCompleted Outcome = "completed"

	// OutcomeNotYetAvailable indicates a table the pass needs does not exist yet.
	// This is not an error, the pass is retried on the next cycle.
	OutcomeNotYetAvailable Outcome = "not_yet_available"

	// OutcomeBackpressure indicates the pass stopped early because the in-flight ceiling was exceeded.
	OutcomeBackpressure Outcome = "backpressure"

	// OutcomeFailed indicates the pass was abandoned due to a transient infrastructure error.
	OutcomeFailed Outcome = "failed"
)

// ProjectionReport summarizes one StatusProjector pass.
type ProjectionReport struct {
	// Outcome is how the pass ended.
	Outcome Outcome

	// Markers is the number of closed-file markers read.
	Markers int

	// Projected is the number of status records written and flushed.
	Projected int

	// Rejected is the number of status mutations the table rejected.
	Rejected int

	// Malformed is the number of markers skipped because their status could not be decoded.
	Malformed int

	// Err holds the infrastructure error when Outcome is OutcomeFailed or OutcomeNotYetAvailable.
	Err error
}

// WorkReport summarizes one createWork pass of the WorkAssigner.
type WorkReport struct {
	// Outcome is how the pass ended.
	Outcome Outcome

	// Scanned is the number of work entries read before the pass ended.
	Scanned int

	// Dispatched is the number of new work items written to the work queue.
	Dispatched int

	// AlreadyQueued is the number of entries skipped because their key was already queued.
	AlreadyQueued int

	// Malformed is the number of entries skipped because their status could not be decoded.
	Malformed int

	// DispatchFailures is the number of work queue writes that failed.
	DispatchFailures int

	// Err holds the infrastructure error when Outcome is OutcomeFailed or OutcomeNotYetAvailable.
	Err error
}

// CleanupReport summarizes one cleanupFinishedWork pass of the WorkAssigner.
type CleanupReport struct {
	// Checked is the number of queued keys looked up in the work queue.
	Checked int

	// Removed is the number of keys dropped because their work queue node is gone.
	Removed int

	// LookupErrors is the number of keys kept because the lookup failed.
	LookupErrors int
}

// Leadership reports whether this process currently holds coordinator responsibility.
// Leader election itself happens elsewhere.
type Leadership interface {
	IsCoordinator(ctx context.Context) bool
}

// LeadershipFunc adapts a function to the Leadership interface.
type LeadershipFunc func(ctx context.Context) bool

// IsCoordinator implements Leadership.
func (f LeadershipFunc) IsCoordinator(ctx context.Context) bool {
	return f(ctx)
}

// AlwaysCoordinator is a Leadership for deployments that run a single coordinator.
var AlwaysCoordinator Leadership = LeadershipFunc(func(context.Context) bool { return true })
