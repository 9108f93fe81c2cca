package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the metrics.
type Metrics struct {
	Issued,
	Rejected,
	Errs *prometheus.CounterVec

	SignDuration *prometheus.HistogramVec
}

// M structure to collect all metrics together.
var M Metrics

// Register metrics and metrics page.
func Register() {
	M = Metrics{
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudca",
			Subsystem: "sign",
			Name:      "issued_total",
			Help:      "Issued certificates by type",
		}, []string{"type"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudca",
			Subsystem: "sign",
			Name:      "rejected_total",
			Help:      "Rejected or failed sign requests by error code",
		}, []string{"code"}),
		Errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudca",
			Subsystem: "sys",
			Name:      "error_total",
			Help:      "Error counts by module",
		}, []string{"module"}),
		SignDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cloudca",
			Subsystem: "sign",
			Name:      "duration_seconds",
			Help:      "Time spent signing, including the backend round trip",
		}, []string{"provider"}),
	}
	prometheus.MustRegister(M.Issued)
	prometheus.MustRegister(M.Rejected)
	prometheus.MustRegister(M.Errs)
	prometheus.MustRegister(M.SignDuration)
}
