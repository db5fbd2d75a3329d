package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestAddDriftIsScrapeable(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.AddDrift("receivables", 3)
	metrics.AddDrift("receivables", 0) // no-op
	metrics.AddDrift("payables", -1)   // no-op
	metrics.AddDrift("payables", 2)

	body := scrape(t, metrics)
	if !strings.Contains(body, "kasira_reconciliation_drift_total{domain=\"receivables\"} 3") {
		t.Fatalf("expected receivables drift at 3, got: %s", body)
	}
	if !strings.Contains(body, "kasira_reconciliation_drift_total{domain=\"payables\"} 2") {
		t.Fatalf("expected payables drift at 2, got: %s", body)
	}
}

func TestTrackerRecordsRuns(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	if err := metrics.Track("reconcile:scan").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantErr := errors.New("boom")
	if err := metrics.Track("reconcile:scan").End(wantErr); !errors.Is(err, wantErr) {
		t.Fatalf("tracker must return the error untouched, got: %v", err)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "kasira_jobs_total{job=\"reconcile:scan\",status=\"success\"} 1") {
		t.Fatalf("expected one success run, got: %s", body)
	}
	if !strings.Contains(body, "kasira_jobs_total{job=\"reconcile:scan\",status=\"failure\"} 1") {
		t.Fatalf("expected one failed run, got: %s", body)
	}
	if !strings.Contains(body, "kasira_jobs_failures_total{job=\"reconcile:scan\"} 1") {
		t.Fatalf("expected one failure, got: %s", body)
	}
}

func TestNilJobMetricsAreSafe(t *testing.T) {
	var metrics *Metrics

	metrics.AddDrift("receivables", 1)
	if err := metrics.Track("noop").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
