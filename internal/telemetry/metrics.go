package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ProductionsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_productions_enqueued_total", Help: "Productions accepted by the API"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_rate_limit_rejects_total", Help: "Production submissions rejected by the rate limiter"})
	ProductionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "studio_productions_finished_total", Help: "Productions that reached a terminal state"}, []string{"status"})
	ItemOutcomes        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "studio_items_total", Help: "Produced items by terminal status"}, []string{"status"})
	ItemDuration        = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "studio_item_duration_seconds", Help: "Wall time of a single scene production", Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)})
	QuotaRejects        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "studio_quota_rejects_total", Help: "Quota spends refused by the ledger"}, []string{"reason"})
	UnitsConsumed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_units_consumed_total", Help: "Production seconds charged to access keys"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "studio_queue_depth", Help: "Productions waiting in the ready queue"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "studio_productions_inflight", Help: "Productions currently leased by workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ProductionsEnqueued,
			RateLimitRejects,
			ProductionsFinished,
			ItemOutcomes,
			ItemDuration,
			QuotaRejects,
			UnitsConsumed,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
