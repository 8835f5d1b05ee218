// Package telemetry holds the Prometheus metrics and the lightweight
// performance monitor backing the stats member of published snapshots.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Metrics is the registry-scoped set of sentry metrics. Using a private
// registry keeps tests and repeated construction free of duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	Ticks            prometheus.Counter
	Alerts           *prometheus.CounterVec
	WSReconnects     *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	RESTRequests     *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	DetectorDuration prometheus.Histogram
	Connected        *prometheus.GaugeVec
	ConfigReloads    prometheus.Counter
}

// NewMetrics builds and registers the full metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricesentry_ticks_total",
			Help: "Total detector ticks executed",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesentry_alerts_total",
			Help: "Total alerts emitted by priority",
		}, []string{"priority"}),
		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesentry_ws_reconnects_total",
			Help: "Total websocket reconnect attempts by exchange",
		}, []string{"exchange"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesentry_ws_messages_total",
			Help: "Total websocket frames processed by exchange",
		}, []string{"exchange"}),
		RESTRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricesentry_rest_requests_total",
			Help: "Total REST fallback requests by exchange and endpoint",
		}, []string{"exchange", "endpoint"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricesentry_cache_hits_total",
			Help: "Total price cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricesentry_cache_misses_total",
			Help: "Total price cache misses",
		}),
		DetectorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricesentry_detector_duration_seconds",
			Help:    "Duration of one detector tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricesentry_connected",
			Help: "Live stream connectivity by exchange (1 connected, 0 not)",
		}, []string{"exchange"}),
		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricesentry_config_reloads_total",
			Help: "Total configuration updates applied",
		}),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.Alerts,
		m.WSReconnects,
		m.WSMessages,
		m.RESTRequests,
		m.CacheHits,
		m.CacheMisses,
		m.DetectorDuration,
		m.Connected,
		m.ConfigReloads,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gathered flattens the registry into metric name -> summed value, the
// shape the stats snapshot carries. Histograms contribute their sample
// count under "<name>_count".
func (m *Metrics) Gathered() map[string]float64 {
	families, err := m.registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("metrics gather failed")
		return nil
	}

	out := make(map[string]float64, len(families))
	for _, family := range families {
		accumulate(out, family)
	}
	return out
}

func accumulate(out map[string]float64, family *dto.MetricFamily) {
	name := family.GetName()
	for _, metric := range family.GetMetric() {
		switch {
		case metric.GetCounter() != nil:
			out[name] += metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			out[name] += metric.GetGauge().GetValue()
		case metric.GetHistogram() != nil:
			out[name+"_count"] += float64(metric.GetHistogram().GetSampleCount())
		}
	}
}
