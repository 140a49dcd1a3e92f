package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SearchesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_searches_created_total", Help: "New pending searches created",
	}, []string{"domain"})
	SearchesReused = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_searches_reused_total", Help: "FindOrCreate calls served from an existing search",
	}, []string{"domain"})
	FetchSuccesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_fetch_success_total", Help: "Background fetches that completed a search",
	}, []string{"domain"})
	FetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_fetch_failure_total", Help: "Background fetches that failed a search",
	}, []string{"domain"})
	ProviderFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cs_provider_fallbacks_total", Help: "Job fetches served by the fallback provider",
	})
	EnrichSuccesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_enrich_success_total", Help: "Results enriched and embedded",
	}, []string{"domain"})
	EnrichFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_enrich_failure_total", Help: "Results rolled back to unprocessed after an enrichment error",
	}, []string{"domain"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cs_fetch_queue_depth", Help: "Searches waiting for a background fetch",
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SearchesCreated,
			SearchesReused,
			FetchSuccesses,
			FetchFailures,
			ProviderFallbacks,
			EnrichSuccesses,
			EnrichFailures,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
