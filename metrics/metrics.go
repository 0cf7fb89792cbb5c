// Package metrics exposes scan activity as Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/ortelius/lockscan/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockscan"

// Scan kinds used as the "kind" label.
const (
	KindDirectory = "directory"
	KindSBOM      = "sbom"
)

// Lockfile outcomes used as the "outcome" label of lockscan_lockfiles_total.
const (
	LockfileParsed    = "parsed"
	LockfileInherited = "inherited"
	LockfileMissing   = "missing"
)

// Recorder records scan metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	scans     *prometheus.CounterVec
	projects  *prometheus.CounterVec
	findings  *prometheus.CounterVec
	lockfiles *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with its own registry, including the Go and process
// collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by kind and whether anything vulnerable was found.",
		}, []string{"kind", "vulnerable"}),
		projects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_total",
			Help:      "Projects scanned by detected framework.",
		}, []string{"framework"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Vulnerable packages found by severity.",
		}, []string{"severity"}),
		lockfiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockfiles_total",
			Help:      "Lockfile lookups by format and outcome.",
		}, []string{"format", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Errors recorded in scan results.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a scan.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
	}

	registry.MustRegister(r.scans, r.projects, r.findings, r.lockfiles, r.errors, r.duration)
	return r
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveScan records a finished scan.
func (r *Recorder) ObserveScan(kind string, result *model.ScanResult, elapsed time.Duration) {
	if r == nil || result == nil {
		return
	}

	vulnerable := "false"
	if result.Vulnerable {
		vulnerable = "true"
	}
	r.scans.WithLabelValues(kind, vulnerable).Inc()
	r.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if len(result.Errors) > 0 {
		r.errors.WithLabelValues(kind).Add(float64(len(result.Errors)))
	}

	for _, project := range result.Projects {
		r.projects.WithLabelValues(project.Framework).Inc()
		for _, finding := range project.Findings {
			r.findings.WithLabelValues(string(finding.Severity)).Inc()
		}
	}
}

// ObserveLockfile records how a project's resolved packages were obtained.
func (r *Recorder) ObserveLockfile(format, outcome string) {
	if r == nil {
		return
	}
	if format == "" {
		format = "none"
	}
	r.lockfiles.WithLabelValues(format, outcome).Inc()
}
