package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecompute(t *testing.T) {
	m := NewManager()
	m.ObserveRecompute(Recompute{
		Duration:    3 * time.Millisecond,
		Manual:      4,
		Synced:      2,
		Occurrences: 30,
		Collisions:  1,
		Truncated:   1,
	})
	m.ObserveRecompute(Recompute{Occurrences: 28, Collisions: 2})

	assert.Equal(t, 28.0, testutil.ToFloat64(m.occurrences))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.collisions))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.truncatedSeries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.recomputeDuration))
}

func TestCounters(t *testing.T) {
	m := NewManager()
	m.AddDeleted(400, 2)
	m.AddImported("ics", 10, 1, 3)
	m.IncIngest("upserted")
	m.IncIngest("upserted")

	assert.Equal(t, 400.0, testutil.ToFloat64(m.deletes.WithLabelValues("succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deletes.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.imported.WithLabelValues("ics", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingested.WithLabelValues("upserted")))
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.ObserveRecompute(Recompute{Occurrences: 1})
		m.AddDeleted(1, 1)
		m.AddImported("backup", 1, 0, 0)
		m.IncIngest("deleted")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewManager(WithRegistry(registry), WithNamespace("test"))
	m.IncIngest("deleted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_ingest_payloads_total{outcome="deleted"} 1`)
	assert.Same(t, registry, m.Registry())
}

func TestManagersDoNotShareRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		NewManager()
		NewManager(WithProcessCollectors())
	})
}
