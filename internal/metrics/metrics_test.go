package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/tender-sync/internal/model"
)

func TestObserveBatch(t *testing.T) {
	m := New()
	m.ObserveBatch("contracts", model.Summary{Processed: 5, Created: 2, Updated: 1, Skipped: 1, Failed: 1}, 3)
	m.ObserveBatch("contracts", model.Summary{Processed: 1, Created: 1}, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsTotal.WithLabelValues("contracts", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsTotal.WithLabelValues("contracts", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues("contracts")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.enrichFailures.WithLabelValues("contracts")))
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("forecast", model.RunStatusFailed, time.Second)
	m.ObserveRun("forecast", model.RunStatusComplete, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("forecast", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("forecast", "complete")))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("forecast")), 0.0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBatch("x", model.Summary{}, 0)
		m.ObserveRun("x", model.RunStatusComplete, time.Second)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun("contracts", model.RunStatusComplete, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `tender_sync_runs_total{source="contracts",status="complete"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
