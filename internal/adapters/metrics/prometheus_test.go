package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("test")

	c.AddRecords("roads", 3)
	c.AddRecords("roads", 2)
	c.IncDefect("roads", "geometry_invalid")
	c.IncDefect("roads", "geometry_invalid")
	c.IncDefect("roads", "feature_unreadable")
	c.IncRangeFailure("roads")
	c.IncSplit("roads")
	c.IncRetry("page")
	c.IncStorageOperations("download", true)
	c.IncStorageOperations("download", false)
	c.ObserveRangeDuration("roads", 250*time.Millisecond)
	c.ObserveStorageDuration("download", time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"records", counterValue(t, c.records.WithLabelValues("roads")), 5},
		{"invalid geometries", counterValue(t, c.defects.WithLabelValues("roads", "geometry_invalid")), 2},
		{"unreadable features", counterValue(t, c.defects.WithLabelValues("roads", "feature_unreadable")), 1},
		{"range failures", counterValue(t, c.rangeFailures.WithLabelValues("roads")), 1},
		{"splits", counterValue(t, c.splits.WithLabelValues("roads")), 1},
		{"retries", counterValue(t, c.retries.WithLabelValues("page")), 1},
		{"storage success", counterValue(t, c.storageOperations.WithLabelValues("download", "success")), 1},
		{"storage error", counterValue(t, c.storageOperations.WithLabelValues("download", "error")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector owns its registry, so two can coexist.
	a := NewCollector("")
	b := NewCollector("")
	a.IncSplit("dem")

	if got := counterValue(t, b.splits.WithLabelValues("dem")); got != 0 {
		t.Errorf("second collector splits = %v, want 0", got)
	}
}

func TestRouter(t *testing.T) {
	c := NewCollector("test")
	c.AddRecords("dem", 7)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, `test_records_total{source="dem"} 7`},
		{"health", http.MethodGet, "/health", http.StatusOK, "ok"},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound, ""},
		{"wrong method", http.MethodPost, "/metrics", http.StatusMethodNotAllowed, ""},
	}

	router := c.Router()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body does not contain %q:\n%s", tt.wantBody, body)
			}
		})
	}
}
