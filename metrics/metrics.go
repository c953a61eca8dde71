// Package metrics exposes scan pipeline metrics for Prometheus scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go-easm/models"
)

// Recorder collects scan pipeline metrics in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	scansTotal           *prometheus.CounterVec
	findingsTotal        *prometheus.CounterVec
	vulnerabilitiesTotal prometheus.Counter
	transitionsTotal     *prometheus.CounterVec
	scansRunning         prometheus.Gauge
	scanDurationSeconds  *prometheus.HistogramVec
}

// New returns a *Recorder with every metric registered.
func New() *Recorder {
	// Custom registry, the default one is left untouched.
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,

		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easm_scans_total",
				Help: "Total number of scans that reached a terminal status",
			},
			[]string{"status"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easm_findings_total",
				Help: "Total number of scanner findings decoded",
			},
			[]string{"severity"},
		),
		vulnerabilitiesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "easm_vulnerabilities_created_total",
				Help: "Total number of new vulnerabilities created by ingestion",
			},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easm_vulnerability_transitions_total",
				Help: "Total number of vulnerability workflow mutations",
			},
			[]string{"action", "to"},
		),
		scansRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "easm_scans_running",
				Help: "Number of scans currently executing",
			},
		),
		scanDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "easm_scan_duration_seconds",
				Help:    "Scan execution duration in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		r.scansTotal,
		r.findingsTotal,
		r.vulnerabilitiesTotal,
		r.transitionsTotal,
		r.scansRunning,
		r.scanDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the HTTP handler serving the metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ScanStarted records a scan entering the running status.
func (r *Recorder) ScanStarted() {
	r.scansRunning.Inc()
}

// ScanFinished records a scan leaving the running status.
func (r *Recorder) ScanFinished(status models.ScanStatus, d time.Duration) {
	r.scansRunning.Dec()
	r.scansTotal.WithLabelValues(string(status)).Inc()
	r.scanDurationSeconds.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ScanCancelled records a scan cancelled before it started running.
func (r *Recorder) ScanCancelled() {
	r.scansTotal.WithLabelValues(string(models.ScanCancelled)).Inc()
}

// Findings records decoded findings per severity.
func (r *Recorder) Findings(counts map[models.Severity]int) {
	for sev, n := range counts {
		r.findingsTotal.WithLabelValues(string(sev)).Add(float64(n))
	}
}

// VulnerabilitiesCreated records new vulnerabilities.
func (r *Recorder) VulnerabilitiesCreated(n int) {
	r.vulnerabilitiesTotal.Add(float64(n))
}

// Transition records a vulnerability workflow mutation.
func (r *Recorder) Transition(action models.EventAction, to models.VulnState) {
	r.transitionsTotal.WithLabelValues(string(action), string(to)).Inc()
}
