package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	instance string
}

// NewCollector creates a new Collector for the given replication instance.
func NewCollector(instance string) *Collector {
	return &Collector{instance: instance}
}

// AddMarkersProjected adds to the projected markers counter.
func (c *Collector) AddMarkersProjected(n int) {
	MarkersProjectedTotal.WithLabelValues(c.instance).Add(float64(n))
}

// AddMutationsRejected adds to the rejected mutations counter.
func (c *Collector) AddMutationsRejected(n int) {
	MutationsRejectedTotal.WithLabelValues(c.instance).Add(float64(n))
}

// AddMalformedRecords adds to the malformed records counter of a component.
func (c *Collector) AddMalformedRecords(component string, n int) {
	MalformedRecordsTotal.WithLabelValues(c.instance, component).Add(float64(n))
}

// AddWorkDispatched adds to the dispatched work counter.
func (c *Collector) AddWorkDispatched(n int) {
	WorkDispatchedTotal.WithLabelValues(c.instance).Add(float64(n))
}

// AddDispatchFailures adds to the dispatch failures counter.
func (c *Collector) AddDispatchFailures(n int) {
	DispatchFailuresTotal.WithLabelValues(c.instance).Add(float64(n))
}

// AddWorkFinished adds to the finished work counter.
func (c *Collector) AddWorkFinished(n int) {
	WorkFinishedTotal.WithLabelValues(c.instance).Add(float64(n))
}

// AddQueueLookupErrors adds to the queue lookup errors counter.
func (c *Collector) AddQueueLookupErrors(n int) {
	QueueLookupErrorsTotal.WithLabelValues(c.instance).Add(float64(n))
}

// IncCycle increments the cycle counter for a component and outcome.
func (c *Collector) IncCycle(component, outcome string) {
	CyclesTotal.WithLabelValues(c.instance, component, outcome).Inc()
}

// SetQueuedWork sets the queued work gauge.
func (c *Collector) SetQueuedWork(count int) {
	QueuedWork.WithLabelValues(c.instance).Set(float64(count))
}

// SetMaxQueueSize sets the in-flight ceiling gauge.
func (c *Collector) SetMaxQueueSize(max int) {
	MaxQueueSize.WithLabelValues(c.instance).Set(float64(max))
}

// SetLeader sets the leadership gauge.
func (c *Collector) SetLeader(leader bool) {
	v := 0.0
	if leader {
		v = 1
	}
	Leader.WithLabelValues(c.instance).Set(v)
}

// ObserveCycleDuration records a cycle duration observation for a component.
func (c *Collector) ObserveCycleDuration(component string, seconds float64) {
	CycleDuration.WithLabelValues(c.instance, component).Observe(seconds)
}
