package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Vote outcomes, used as the "result" label.
const (
	VoteResultNew       = "new"
	VoteResultSwitched  = "switched"
	VoteResultDuplicate = "duplicate"
	VoteResultRejected  = "rejected"
	VoteResultError     = "error"
)

// VoteMetrics counts votes by type and outcome.
type VoteMetrics struct {
	VotesTotal *prometheus.CounterVec
	Duration   prometheus.Histogram
}

func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of votes cast, by type and result.",
		}, []string{"type", "result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_duration_seconds",
			Help:      "Duration of the vote transaction in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
	reg.MustRegister(m.VotesTotal, m.Duration)
	return m
}

// Observe records one vote attempt. Safe on a nil receiver.
func (m *VoteMetrics) Observe(voteType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.VotesTotal.WithLabelValues(voteType, result).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

// VibeMetrics counts vibe creation and deletion.
type VibeMetrics struct {
	Created *prometheus.CounterVec
	Deleted prometheus.Counter
}

func NewVibeMetrics(reg prometheus.Registerer) *VibeMetrics {
	m := &VibeMetrics{
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vibes_created_total",
			Help:      "Total number of vibes created, by visibility.",
		}, []string{"visibility"}),
		Deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vibes_deleted_total",
			Help:      "Total number of vibes deleted.",
		}),
	}
	reg.MustRegister(m.Created, m.Deleted)
	return m
}

func (m *VibeMetrics) ObserveCreated(visibility string) {
	if m == nil {
		return
	}
	m.Created.WithLabelValues(visibility).Inc()
}

func (m *VibeMetrics) ObserveDeleted() {
	if m == nil {
		return
	}
	m.Deleted.Inc()
}

// CacheMetrics counts read-through cache lookups.
type CacheMetrics struct {
	Lookups *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Lookups)
	return m
}

// ObserveLookup matches cache.ReadThrough.OnLookup.
func (m *CacheMetrics) ObserveLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Lookups.WithLabelValues(result).Inc()
}

// LiveMetrics tracks websocket subscribers of the resonance stream.
type LiveMetrics struct {
	Connections prometheus.Gauge
	Dropped     prometheus.Counter
	Broadcasts  prometheus.Counter
}

func NewLiveMetrics(reg prometheus.Registerer) *LiveMetrics {
	m := &LiveMetrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "connections",
			Help:      "Number of open resonance websocket connections.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "slow_clients_dropped_total",
			Help:      "Total number of clients disconnected for not keeping up.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "broadcasts_total",
			Help:      "Total number of resonance updates broadcast.",
		}),
	}
	reg.MustRegister(m.Connections, m.Dropped, m.Broadcasts)
	return m
}
