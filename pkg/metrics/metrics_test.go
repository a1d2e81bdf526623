package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.Documents.WithLabelValues(OutcomeCommitted, "committed").Inc()
	m.Documents.WithLabelValues(OutcomeRejected, "classified").Add(2)
	m.ObserveStage("parsed", time.Now().Add(-10*time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Documents.WithLabelValues(OutcomeCommitted, "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Documents.WithLabelValues(OutcomeRejected, "classified")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageSeconds))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_ingest_documents_total")

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveStage("parsed", time.Now()) })

	// a second set must not collide with the first
	assert.NotPanics(t, func() { New() })
}
