package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route and outcome label values of RequestsTotal.
const (
	RouteAPI         = "api"
	RouteStatic      = "static"
	RoutePassthrough = "passthrough"
	RouteInstall     = "install" // OriginLatency only

	OutcomeNetwork = "network"
	OutcomeCache   = "cache"
	OutcomeOffline = "offline"
	OutcomeError   = "error"
)

// Metrics holds every collector the gateway updates.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec   // by route and outcome
	InstallsTotal      *prometheus.CounterVec   // by result: success/failure
	BucketsPurgedTotal prometheus.Counter       // buckets deleted on activate
	OriginLatency      *prometheus.HistogramVec // by route

	ActiveBucketEntries prometheus.Gauge
	ProcessRSS          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. Passing a
// fresh prometheus.NewRegistry() keeps tests independent of the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finanzgw_requests_total",
				Help: "Requests handled by the gateway",
			},
			[]string{"route", "outcome"},
		),
		InstallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finanzgw_installs_total",
				Help: "Install attempts of a cache version",
			},
			[]string{"result"},
		),
		BucketsPurgedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "finanzgw_buckets_purged_total",
				Help: "Stale cache buckets deleted during activation",
			},
		),
		OriginLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finanzgw_origin_latency_seconds",
				Help:    "Latency of requests sent to the origin",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ActiveBucketEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "finanzgw_active_bucket_entries",
				Help: "Entries stored in the bucket of the controlling version",
			},
		),
		ProcessRSS: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "finanzgw_process_rss_bytes",
				Help: "Resident set size of the gateway process",
			},
		),
	}
}

// ObserveRequest counts one handled request.
func (m *Metrics) ObserveRequest(route, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, outcome).Inc()
}
