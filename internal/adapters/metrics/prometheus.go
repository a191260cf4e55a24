// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry          *prometheus.Registry
	records           *prometheus.CounterVec
	defects           *prometheus.CounterVec
	rangeFailures     *prometheus.CounterVec
	splits            *prometheus.CounterVec
	retries           *prometheus.CounterVec
	rangeDuration     *prometheus.HistogramVec
	storageOperations *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
}

var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector with its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "geosplit"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of records emitted",
			},
			[]string{"source"},
		),

		defects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "defects_total",
				Help:      "Records or units dropped, by defect kind",
			},
			[]string{"source", "kind"},
		),

		rangeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "range_failures_total",
				Help:      "Total number of ranges aborted by an error",
			},
			[]string{"source"},
		),

		splits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "splits_total",
				Help:      "Total number of successful dynamic splits",
			},
			[]string{"source"},
		),

		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried remote fetches",
			},
			[]string{"operation"},
		),

		rangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "range_duration_seconds",
				Help:      "Time taken to read one range",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"source"},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// AddRecords adds emitted records for a source.
func (c *Collector) AddRecords(source string, n int) {
	c.records.WithLabelValues(source).Add(float64(n))
}

// IncDefect counts a dropped record by defect kind.
func (c *Collector) IncDefect(source, kind string) {
	c.defects.WithLabelValues(source, kind).Inc()
}

// IncRangeFailure counts an aborted range.
func (c *Collector) IncRangeFailure(source string) {
	c.rangeFailures.WithLabelValues(source).Inc()
}

// IncSplit counts a dynamic split.
func (c *Collector) IncSplit(source string) {
	c.splits.WithLabelValues(source).Inc()
}

// IncRetry counts a retried fetch.
func (c *Collector) IncRetry(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

// ObserveRangeDuration records range read duration.
func (c *Collector) ObserveRangeDuration(source string, duration time.Duration) {
	c.rangeDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.storageOperations.WithLabelValues(operation, status).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Router returns the routes of the metrics endpoint.
func (c *Collector) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", c.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// Serve exposes the collector on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           c.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
