package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/tasks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/tasks/{id}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tasks/abc", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/tasks/{id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestCounters(t *testing.T) {
	IncEventPublished("task_assigned", ResultOK)
	IncEventConsumed("task_updated", ResultRetry)
	IncUpstreamFailure("tasks")

	assert.GreaterOrEqual(t, testutil.ToFloat64(eventsPublished.WithLabelValues("task_assigned", ResultOK)), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(eventsConsumed.WithLabelValues("task_updated", ResultRetry)), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(upstreamFailures.WithLabelValues("tasks")), 1.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	IncUpstreamFailure("identity")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gateway_upstream_failures_total")
}
