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

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/crawls/{crawl_id}/media", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"media":[]}`))
	})
	r.Post("/v1/seeds", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusInternalServerError)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, id := range []string{"a", "b"} {
		resp, err := http.Get(ts.URL + "/v1/crawls/" + id + "/media")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		require.NoError(t, resp.Body.Close())
	}
	resp, err := http.Post(ts.URL+"/v1/seeds", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	resp, err = http.Get(ts.URL + "/nowhere")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	mediaRoute := "/v1/crawls/{crawl_id}/media"
	assert.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", mediaRoute, "200")), 0)
	assert.InDelta(t, 2*len(`{"media":[]}`), testutil.ToFloat64(httpResponseBytesTotal.WithLabelValues(mediaRoute)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/seeds", "202")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")), 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	t.Parallel()

	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner}
	assert.Equal(t, http.StatusOK, rec.Status())
	assert.Same(t, inner, rec.Unwrap())
}
