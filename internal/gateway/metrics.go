package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nao1215/edgegate/pkg/middleware"
	"github.com/nao1215/edgegate/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsNamespace はメトリクス名の接頭辞。
const metricsNamespace = "api_gateway"

// unmatchedRoute は経路が解決されなかったリクエストのラベル値。
const unmatchedRoute = "unmatched"

// Metrics はゲートウェイのPrometheusメトリクス。
// グローバルのレジストリは使わず、Serverごとに専用のレジストリを持つ。
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitDecisions *prometheus.CounterVec
	upstreamErrors     *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成して専用のレジストリに登録する。
func NewMetrics(startedAt time.Time) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	up := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "up",
		Help:      "Service up status",
	})
	up.Set(1)

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the gateway started",
	}, func() float64 {
		return time.Since(startedAt).Seconds()
	})

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of requests",
		},
		[]string{"method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	m.rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit admission decisions",
		},
		[]string{"result"},
	)

	for _, result := range []string{middleware.RateLimitAllowed, middleware.RateLimitDenied, middleware.RateLimitError} {
		m.rateLimitDecisions.WithLabelValues(result)
	}

	m.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to backend services",
		},
		[]string{"route", "kind"},
	)

	m.registry.MustRegister(
		up,
		uptime,
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitDecisions,
		m.upstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry はメトリクスのレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest はpipeline.Observerとしてリクエストの件数と所要時間を記録する。
// /metrics自体の取得は出力を変えないように記録しない。
func (m *Metrics) ObserveRequest(c *pipeline.Context, status int, elapsed time.Duration) {
	route := unmatchedRoute
	if c.Route != nil {
		route = c.Route.Entry.Name
	}
	if route == routeMetrics {
		return
	}
	m.requestsTotal.WithLabelValues(c.Method(), strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())
}

// ObserveRateLimit はレート制限の判定結果を記録する。
func (m *Metrics) ObserveRateLimit(result string) {
	m.rateLimitDecisions.WithLabelValues(result).Inc()
}

// ObserveUpstreamError はバックエンド呼び出しの失敗を記録する。
func (m *Metrics) ObserveUpstreamError(route, kind string) {
	m.upstreamErrors.WithLabelValues(route, kind).Inc()
}

// Handler はPrometheusのテキスト形式で出力するハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
