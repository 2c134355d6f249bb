// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// querycache.MetricsRecorder、api.LatencyRecorder、
// middleware.StatusObserverを実装する。
type Collector struct {
	cacheHit        prometheus.Counter
	cacheMiss       prometheus.Counter
	cacheDedup      prometheus.Counter
	cacheInvalidate prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildia_cache_hit_total",
			Help: "クエリキャッシュヒットの合計数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildia_cache_miss_total",
			Help: "クエリキャッシュミス（フェッチ起動）の合計数",
		}),
		cacheDedup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildia_cache_dedup_total",
			Help: "進行中フェッチに相乗りした読み取りの合計数",
		}),
		cacheInvalidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildia_cache_invalidation_total",
			Help: "キャッシュ無効化の合計数",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buildia_upstream_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildia_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.cacheDedup,
		c.cacheInvalidate,
		c.upstreamLatency,
		c.httpStatus,
	)

	return c
}

// IncCacheHit はキャッシュヒットを記録する。
func (c *Collector) IncCacheHit() {
	c.cacheHit.Inc()
}

// IncCacheMiss はキャッシュミスを記録する。
func (c *Collector) IncCacheMiss() {
	c.cacheMiss.Inc()
}

// IncCacheDedup は進行中フェッチへの相乗りを記録する。
func (c *Collector) IncCacheDedup() {
	c.cacheDedup.Inc()
}

// IncCacheInvalidation はキャッシュ無効化を記録する。
func (c *Collector) IncCacheInvalidation() {
	c.cacheInvalidate.Inc()
}

// ObserveUpstreamLatency はバックエンド呼び出しのレイテンシを記録する。
func (c *Collector) ObserveUpstreamLatency(method, path string, seconds float64) {
	c.upstreamLatency.WithLabelValues(method, path).Observe(seconds)
}

// ObserveHTTPStatus はHTTPレスポンスのステータスコードを記録する。
func (c *Collector) ObserveHTTPStatus(method string, status int) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
