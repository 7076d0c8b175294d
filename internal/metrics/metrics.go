// Package metrics defines the Prometheus collectors the server exports on
// /metrics. Each group is registered on a caller-supplied registry, so tests
// can use a fresh prometheus.NewRegistry().
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vibehub"

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics bundles every group the server records.
type Metrics struct {
	HTTP  *HTTPMetrics
	Votes *VoteMetrics
	Vibes *VibeMetrics
	Cache *CacheMetrics
	Live  *LiveMetrics
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		HTTP:  NewHTTPMetrics(reg),
		Votes: NewVoteMetrics(reg),
		Vibes: NewVibeMetrics(reg),
		Cache: NewCacheMetrics(reg),
		Live:  NewLiveMetrics(reg),
	}
}
