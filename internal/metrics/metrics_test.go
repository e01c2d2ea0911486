package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scormetry/scormetry/internal/metrics"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	metrics.Init()
	metrics.Init()

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/activities/{activityID}", func(w http.ResponseWriter, r *http.Request) {})
	r.Post("/activities/{activityID}/preview", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	counter := metrics.RequestCounter.WithLabelValues(http.MethodGet, "/activities/{activityID}", "200")
	before := testutil.ToFloat64(counter)
	for _, id := range []string{"a1", "a2", "a3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/activities/"+id, nil))
	}
	assert.Equal(t, before+3, testutil.ToFloat64(counter))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/activities/a1/preview", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.RequestCounter.WithLabelValues(http.MethodPost, "/activities/{activityID}/preview", "429")))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
