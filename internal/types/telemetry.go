package types

// Telemetry constants shared between the API and the publish worker.
const (
	// Metric Names
	MetricPublishAttempt = "PublishAttempt"
	MetricPublishLatency = "PublishLatency"
	MetricQueueLag       = "QueueLag"
	MetricAPILatency     = "APILatency"

	// Dimension Keys
	DimQueue  = "Queue"
	DimResult = "Result"

	// Metric Namespace
	MetricNamespace = "Postwire"
)
