package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Component label values.
const (
	ComponentProjector = "projector"
	ComponentAssigner  = "assigner"
)

// MarkersProjectedTotal tracks closed-file markers written as status records.
var MarkersProjectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_markers_projected_total",
		Help: "Total closed-file markers projected into status records",
	},
	[]string{"instance"},
)

// MutationsRejectedTotal tracks status record mutations refused by the replication table.
var MutationsRejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_mutations_rejected_total",
		Help: "Total status record mutations rejected by the replication table",
	},
	[]string{"instance"},
)

// MalformedRecordsTotal tracks entries skipped because their status could not be decoded.
var MalformedRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_malformed_records_total",
		Help: "Total entries skipped because of an undecodable status",
	},
	[]string{"instance", "component"},
)

// WorkDispatchedTotal tracks work items added to the work queue.
var WorkDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_work_dispatched_total",
		Help: "Total work items added to the work queue",
	},
	[]string{"instance"},
)

// DispatchFailuresTotal tracks failed work queue insertions.
var DispatchFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_dispatch_failures_total",
		Help: "Total failed work queue insertions",
	},
	[]string{"instance"},
)

// WorkFinishedTotal tracks queued work keys removed after their queue item disappeared.
var WorkFinishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_work_finished_total",
		Help: "Total queued work keys reconciled as finished",
	},
	[]string{"instance"},
)

// QueueLookupErrorsTotal tracks failed work queue lookups during reconciliation.
var QueueLookupErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_queue_lookup_errors_total",
		Help: "Total failed work queue lookups during reconciliation",
	},
	[]string{"instance"},
)

// CyclesTotal tracks loop cycles by component and outcome.
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_replication_cycles_total",
		Help: "Total cycles by component and outcome",
	},
	[]string{"instance", "component", "outcome"},
)

// QueuedWork tracks the size of the queued work set.
var QueuedWork = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_replication_queued_work",
		Help: "Current number of work keys tracked as queued",
	},
	[]string{"instance"},
)

// MaxQueueSize tracks the in-flight ceiling in effect.
var MaxQueueSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_replication_max_queue_size",
		Help: "In-flight ceiling of the work queue",
	},
	[]string{"instance"},
)

// Leader tracks whether this process currently coordinates the replication domain.
var Leader = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_replication_leader",
		Help: "1 when this process is the coordinator, 0 otherwise",
	},
	[]string{"instance"},
)

// CycleDuration tracks time spent in one cycle of a component.
var CycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_replication_cycle_duration_seconds",
		Help:    "Time spent in one cycle",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"instance", "component"},
)
