package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ScanOutcome("verified")
	m.ScanOutcome("verified")
	m.ScanOutcome("expired")
	m.ConfirmOutcome("delivered")
	m.IssueResult("created")
	m.ObserveHTTP("/api/delivery/verify-scan", "POST", "200", 0.01)

	if got := testutil.ToFloat64(m.Scans.WithLabelValues("verified")); got != 2 {
		t.Fatalf("expected 2 verified scans, got %v", got)
	}
	if got := testutil.ToFloat64(m.Scans.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expected 1 expired scan, got %v", got)
	}
	if got := testutil.ToFloat64(m.Confirmations.WithLabelValues("delivered")); got != 1 {
		t.Fatalf("expected 1 confirmation, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/delivery/verify-scan", "POST", "200")); got != 1 {
		t.Fatalf("expected 1 http request, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ScanOutcome("verified")
	m.ConfirmOutcome("delivered")
	m.IssueResult("created")
	m.ObserveHTTP("/", "GET", "200", 0)
}
