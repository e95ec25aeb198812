// Package metrics holds the Prometheus instruments of the form engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Metrics provides observability for detection, fill and collaboration.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Detection passes by result: "ok" or the engine error kind.
	Detections *prometheus.CounterVec

	// Fill targets by outcome: "filled" or "skipped".
	FillFields *prometheus.CounterVec

	FillDuration prometheus.Histogram

	ResolutionMisses prometheus.Counter

	// Overlay texts drawn, by the font that succeeded.
	OverlayFonts *prometheus.CounterVec

	// Finalize attempts by result: "completed" or "validation_failure".
	Finalizations *prometheus.CounterVec

	ActiveSessions prometheus.Gauge

	// Collaboration events published, by event type.
	Broadcasts *prometheus.CounterVec

	// Events discarded because a session's buffer was full.
	DroppedEvents prometheus.Counter
}

// New registers every instrument with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "formfill_detections_total",
			Help: "Field detection passes by result",
		}, []string{"result"}),

		FillFields: f.NewCounterVec(prometheus.CounterOpts{
			Name: "formfill_fill_fields_total",
			Help: "Fill targets processed by outcome",
		}, []string{"outcome"}),

		FillDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "formfill_fill_duration_seconds",
			Help:    "Duration of a complete fill pass",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ResolutionMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "formfill_resolution_misses_total",
			Help: "Logical names that resolved to no field or annotation",
		}),

		OverlayFonts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "formfill_overlay_fonts_total",
			Help: "Overlay texts drawn by the font that succeeded",
		}, []string{"font"}),

		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "formfill_finalizations_total",
			Help: "Finalize attempts by result",
		}, []string{"result"}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "formfill_active_sessions",
			Help: "Collaboration sessions currently relaying events",
		}),

		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "formfill_broadcast_events_total",
			Help: "Collaboration events published by type",
		}, []string{"type"}),

		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "formfill_dropped_events_total",
			Help: "Collaboration events dropped for slow sessions",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveDetection records one detection pass.
func (m *Metrics) ObserveDetection(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = forms.KindOf(err).String()
	}
	m.Detections.WithLabelValues(result).Inc()
}

// ObserveFill records the outcome of a fill pass.
func (m *Metrics) ObserveFill(res *forms.FillResult, d time.Duration) {
	if m == nil || res == nil {
		return
	}
	m.FillDuration.Observe(d.Seconds())
	m.FillFields.WithLabelValues("filled").Add(float64(res.FilledCount))
	m.FillFields.WithLabelValues("skipped").Add(float64(len(res.Skipped)))
	for _, o := range res.Outcomes {
		if o.Filled && o.Font != "" {
			m.OverlayFonts.WithLabelValues(o.Font).Inc()
		}
	}
}

// AddResolutionMisses records n unresolved logical names.
func (m *Metrics) AddResolutionMisses(n int) {
	if m != nil && n > 0 {
		m.ResolutionMisses.Add(float64(n))
	}
}

// IncFinalization records a finalize attempt.
func (m *Metrics) IncFinalization(result string) {
	if m != nil {
		m.Finalizations.WithLabelValues(result).Inc()
	}
}

// SessionOpened and SessionClosed track the active session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

// IncBroadcast records a published collaboration event.
func (m *Metrics) IncBroadcast(eventType string) {
	if m != nil {
		m.Broadcasts.WithLabelValues(eventType).Inc()
	}
}

// IncDropped records a discarded collaboration event.
func (m *Metrics) IncDropped() {
	if m != nil {
		m.DroppedEvents.Inc()
	}
}
