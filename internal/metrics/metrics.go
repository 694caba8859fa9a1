// Package metrics collects Prometheus metrics for identity resolution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the identity service.
type Recorder interface {
	RecordResolution(source string)
	RecordResolutionFailure(reason string)
	RecordLookupUnavailable(step string)
	RecordDerivationFallback()
	RecordWritebackFailure()
	RecordEnrichment(outcome string)
}

// Collector implements Recorder on Prometheus.
type Collector struct {
	resolutions       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	lookupUnavailable *prometheus.CounterVec
	fallbacks         prometheus.Counter
	writebackFailures prometheus.Counter
	enrichments       *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devportal_identity_resolutions_total",
			Help: "Successful identity resolutions by precedence source.",
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devportal_identity_resolution_failures_total",
			Help: "Failed identity resolutions by reason.",
		}, []string{"reason"}),
		lookupUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devportal_identity_lookup_unavailable_total",
			Help: "Record store lookups that failed or timed out, by step.",
		}, []string{"step"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devportal_developer_id_fallbacks_total",
			Help: "Developer IDs derived with the timestamp fallback.",
		}),
		writebackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devportal_claims_writeback_failures_total",
			Help: "Best-effort claim write-backs to the identity provider that failed.",
		}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devportal_claims_enrichments_total",
			Help: "Pre-token claim enrichments by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.resolutions,
		c.failures,
		c.lookupUnavailable,
		c.fallbacks,
		c.writebackFailures,
		c.enrichments,
	)
	return c
}

func (c *Collector) RecordResolution(source string) {
	c.resolutions.WithLabelValues(source).Inc()
}

func (c *Collector) RecordResolutionFailure(reason string) {
	c.failures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordLookupUnavailable(step string) {
	c.lookupUnavailable.WithLabelValues(step).Inc()
}

func (c *Collector) RecordDerivationFallback() {
	c.fallbacks.Inc()
}

func (c *Collector) RecordWritebackFailure() {
	c.writebackFailures.Inc()
}

func (c *Collector) RecordEnrichment(outcome string) {
	c.enrichments.WithLabelValues(outcome).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordResolution(string)        {}
func (Nop) RecordResolutionFailure(string) {}
func (Nop) RecordLookupUnavailable(string) {}
func (Nop) RecordDerivationFallback()      {}
func (Nop) RecordWritebackFailure()        {}
func (Nop) RecordEnrichment(string)        {}
