package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersEverything(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.Votes.Observe("boost", VoteResultNew, time.Millisecond)
	m.Vibes.ObserveCreated("public")
	m.Cache.ObserveLookup(true)
	m.Live.Connections.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"vibehub_votes_total",
		"vibehub_vote_duration_seconds",
		"vibehub_vibes_created_total",
		"vibehub_cache_lookups_total",
		"vibehub_live_connections",
		"go_goroutines",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestVoteMetrics_Observe(t *testing.T) {
	m := NewVoteMetrics(prometheus.NewRegistry())

	m.Observe("boost", VoteResultNew, time.Millisecond)
	m.Observe("boost", VoteResultNew, time.Millisecond)
	m.Observe("chill", VoteResultSwitched, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesTotal.WithLabelValues("boost", VoteResultNew)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesTotal.WithLabelValues("chill", VoteResultSwitched)))

	var nilMetrics *VoteMetrics
	nilMetrics.Observe("boost", VoteResultNew, 0)
}

func TestCacheMetrics_ObserveLookup(t *testing.T) {
	m := NewCacheMetrics(prometheus.NewRegistry())

	m.ObserveLookup(true)
	m.ObserveLookup(false)
	m.ObserveLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lookups.WithLabelValues("miss")))
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/vibes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/api/vibes/a", "/api/vibes/b", "/metrics"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/vibes/{id}", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}

func TestHandler_ServesText(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewVibeMetrics(reg).ObserveDeleted()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vibehub_vibes_deleted_total 1"))
}
