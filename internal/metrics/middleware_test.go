package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	beforeCode := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	beforeRoutes := testutil.CollectAndCount(httpRequestDurationSeconds)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, beforeCode+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
	require.GreaterOrEqual(t, testutil.CollectAndCount(httpRequestDurationSeconds), beforeRoutes)
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.Flush()
	require.True(t, rec.Flushed)
}
