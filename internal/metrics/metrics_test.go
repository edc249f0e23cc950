package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.QIDIAN.com/rank/recom/", "www.qidian.com"},
		{"no scheme", "book.qidian.com/info/1", "book.qidian.com"},
		{"host with port", "localhost:3000", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := rankRunsTotal
	Init()

	require.NotNil(t, first)
	assert.Same(t, first, rankRunsTotal)
}

func TestRunCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(rankRunsTotal.WithLabelValues("www.qidian.com", "static", "succeeded"))
	ObserveRun("https://www.QIDIAN.com/rank/newsign/chn9/", "static", "succeeded", 3)
	ObserveRun("https://www.qidian.com/rank/newsign/chn9/", "static", "empty", 0)
	ObserveRun("", "static", "failed", 0)

	assert.Equal(t, before+1, testutil.ToFloat64(rankRunsTotal.WithLabelValues("www.qidian.com", "static", "succeeded")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(rankRunsTotal.WithLabelValues("www.qidian.com", "static", "empty")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rankRunsTotal.WithLabelValues("unknown", "static", "failed")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rankBooksTotal.WithLabelValues("static")), 3.0)
}

func TestObservers(t *testing.T) {
	ObserveDetailFetch("browser", "succeeded")
	ObserveSignalStrategy("label_pattern")
	ObserveFallback("static", "browser")
	ObservePacingDelay("browser", 2*time.Second)

	assert.GreaterOrEqual(t, testutil.ToFloat64(rankDetailFetchTotal.WithLabelValues("browser", "succeeded")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rankSignalStrategyTotal.WithLabelValues("label_pattern")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rankMechanismFallbacks.WithLabelValues("static", "browser")), 1.0)
	assert.Positive(t, testutil.CollectAndCount(rankPacingDelaySeconds))
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/books", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	teapotBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	for _, path := range []string{"/api/books", "/api/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, teapotBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
