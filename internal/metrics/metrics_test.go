package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/me/clusterize/pkg/model"
)

func TestMetricsRegistered(t *testing.T) {
	// Vectors only appear in Gather once a series exists.
	JobFinished(model.JobStateCompleted, false)
	RunFinished(true)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	expected := []string{
		"clusterize_jobs_launched_total",
		"clusterize_jobs_finished_total",
		"clusterize_active_jobs",
		"clusterize_aggregate_seconds",
		"clusterize_aggregated_bytes_total",
		"clusterize_poll_passes_total",
		"clusterize_runs_total",
	}

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestActiveJobsGauge(t *testing.T) {
	activeJobs.Set(0)

	JobLaunched()
	JobLaunched()
	JobFinished(model.JobStateCompleted, true)
	JobFinished(model.JobStateFailed, false)

	if v := getGaugeValue(t, "clusterize_active_jobs"); v != 1 {
		t.Errorf("active jobs = %f, want 1", v)
	}
	activeJobs.Set(0)
}

func TestObserveAggregate(t *testing.T) {
	before := getHistogramCount(t, "clusterize_aggregate_seconds")
	ObserveAggregate(25*time.Millisecond, 4096)
	if after := getHistogramCount(t, "clusterize_aggregate_seconds"); after != before+1 {
		t.Errorf("histogram count = %d, want %d", after, before+1)
	}
}

func TestHandler(t *testing.T) {
	PollPass()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clusterize_poll_passes_total") {
		t.Error("exposition missing clusterize_poll_passes_total")
	}
}

func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func getGaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	return findFamily(t, name).GetMetric()[0].GetGauge().GetValue()
}

func getHistogramCount(t *testing.T, name string) uint64 {
	t.Helper()
	return findFamily(t, name).GetMetric()[0].GetHistogram().GetSampleCount()
}
