package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the protocol counters and HTTP instrumentation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CredentialsIssued   *prometheus.CounterVec
	Scans               *prometheus.CounterVec
	Confirmations       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CredentialsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_credentials_issued_total",
				Help: "QR credential issuance requests by result",
			},
			[]string{"result"},
		),
		Scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_scans_total",
				Help: "Courier scan verifications by outcome",
			},
			[]string{"outcome"},
		),
		Confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_confirmations_total",
				Help: "Delivery confirmation attempts by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(
		m.CredentialsIssued,
		m.Scans,
		m.Confirmations,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) IssueResult(result string) {
	if m == nil {
		return
	}
	m.CredentialsIssued.WithLabelValues(result).Inc()
}

func (m *Metrics) ScanOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConfirmOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}
