package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// AddRecords adds emitted records for a source.
	AddRecords(source string, n int)

	// IncDefect counts a dropped record or unit by defect kind.
	IncDefect(source, kind string)

	// IncRangeFailure counts an aborted range.
	IncRangeFailure(source string)

	// IncSplit counts a successful dynamic split.
	IncSplit(source string)

	// IncRetry counts a retried remote fetch.
	IncRetry(operation string)

	// ObserveRangeDuration records how long a range took to read.
	ObserveRangeDuration(source string, duration time.Duration)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// AddRecords implements MetricsCollector.
func (n *NoOpMetrics) AddRecords(_ string, _ int) {}

// IncDefect implements MetricsCollector.
func (n *NoOpMetrics) IncDefect(_, _ string) {}

// IncRangeFailure implements MetricsCollector.
func (n *NoOpMetrics) IncRangeFailure(_ string) {}

// IncSplit implements MetricsCollector.
func (n *NoOpMetrics) IncSplit(_ string) {}

// IncRetry implements MetricsCollector.
func (n *NoOpMetrics) IncRetry(_ string) {}

// ObserveRangeDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRangeDuration(_ string, _ time.Duration) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
