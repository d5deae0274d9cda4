package telemetry

// Histogram buckets for outbound webhook delivery latency
var (
	DeliveryBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// Delivery metrics
var (
	// DeliveriesTotal counts delivery attempts by outcome
	// (success, error_ack, stop_ack, http_error, transport_error, empty)
	DeliveriesTotal CounterVec = noopCounterVec{}

	// DeliveryDurationSeconds measures the wall time of one HTTP push
	DeliveryDurationSeconds Histogram = NoopStat{}

	// RetriesScheduledTotal counts scheduled backoff retries
	RetriesScheduledTotal Counter = NoopStat{}

	// NotifiersStopped counts notifiers stopped by cause
	// (exhausted, expired, forced_disabled, stop_response, panic)
	NotifiersStopped CounterVec = noopCounterVec{}

	// ActiveNotifiers tracks the number of registered notifiers
	ActiveNotifiers Gauge = NoopStat{}

	// FlushesTotal counts flush batches fanned out to notifiers
	FlushesTotal Counter = NoopStat{}

	// TriggersSkippedTotal counts triggers skipped because the busy gate was held
	TriggersSkippedTotal Counter = NoopStat{}

	// ExecutorRejectionsTotal counts delivery cycles rejected by a full executor
	ExecutorRejectionsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	DeliveriesTotal = NewCounterVec(
		"deliveries_total",
		"Delivery attempts by outcome",
		[]string{"outcome"},
	)
	DeliveryDurationSeconds = NewHistogramWithBuckets(
		"delivery_duration_seconds",
		"Wall time of one HTTP push",
		DeliveryBuckets,
	)
	RetriesScheduledTotal = NewCounter(
		"retries_scheduled_total",
		"Scheduled backoff retries",
	)
	NotifiersStopped = NewCounterVec(
		"notifiers_stopped_total",
		"Notifiers stopped by cause",
		[]string{"cause"},
	)
	ActiveNotifiers = NewGauge(
		"active_notifiers",
		"Number of registered notifiers",
	)
	FlushesTotal = NewCounter(
		"flushes_total",
		"Flush batches fanned out to notifiers",
	)
	TriggersSkippedTotal = NewCounter(
		"triggers_skipped_total",
		"Triggers skipped because a delivery cycle was in flight",
	)
	ExecutorRejectionsTotal = NewCounter(
		"executor_rejections_total",
		"Delivery cycles rejected by a saturated executor",
	)
}
