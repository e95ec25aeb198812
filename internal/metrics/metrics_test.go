package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

func TestMetrics_ObserveFill(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFill(&forms.FillResult{
		FilledCount: 3,
		Skipped:     []forms.SkippedField{{Identifier: "bad"}},
		Outcomes: []forms.FieldOutcome{
			{Identifier: "a", Filled: true},
			{Identifier: "sig", Filled: true, Font: "Times-Italic"},
			{Identifier: "note", Filled: true, Font: "Helvetica"},
			{Identifier: "bad", Err: errors.New("boom")},
		},
	}, 20*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FillFields.WithLabelValues("filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FillFields.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverlayFonts.WithLabelValues("Times-Italic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverlayFonts.WithLabelValues("Helvetica")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FillDuration))
}

func TestMetrics_Detection(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveDetection(nil)
	_, err := forms.Detect([]byte("not a pdf"))
	require.Error(t, err)
	m.ObserveDetection(err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("DETECTION_FAILURE")))
}

func TestMetrics_SessionsAndEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.IncBroadcast("field_update")
	m.IncDropped()
	m.AddResolutionMisses(2)
	m.AddResolutionMisses(0)
	m.IncFinalization("completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues("field_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedEvents))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResolutionMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizations.WithLabelValues("completed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDetection(nil)
		m.ObserveFill(&forms.FillResult{}, time.Second)
		m.AddResolutionMisses(1)
		m.IncFinalization("completed")
		m.SessionOpened()
		m.SessionClosed()
		m.IncBroadcast("x")
		m.IncDropped()
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncDropped()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "formfill_dropped_events_total 1"))
}
