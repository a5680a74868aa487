// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// トグル種別
const (
	ToggleLike = "like"
	ToggleSave = "save"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordToggle(kind string, on bool)
	RecordAuthFailure(reason string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordStorageDeleteFailure()
	RecordOrphansSwept(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	toggles              *prometheus.CounterVec
	authFailures         *prometheus.CounterVec
	httpStatus           *prometheus.CounterVec
	requestLatency       prometheus.Histogram
	storageDeleteFailure prometheus.Counter
	orphansSwept         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapboard_toggles_total",
			Help: "いいね・保存トグルの合計数（結果の状態別）",
		}, []string{"kind", "result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapboard_auth_failures_total",
			Help: "ログイン失敗・トークン拒否の合計数（理由別）",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapboard_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		storageDeleteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapboard_storage_delete_failures_total",
			Help: "投稿削除後のオブジェクト削除失敗の合計数",
		}),
		orphansSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapboard_orphans_swept_total",
			Help: "クリーンアップジョブが削除した孤立オブジェクトの合計数",
		}),
	}

	reg.MustRegister(
		c.toggles,
		c.authFailures,
		c.httpStatus,
		c.requestLatency,
		c.storageDeleteFailure,
		c.orphansSwept,
	)

	return c
}

// RecordToggle はトグル操作の結果を記録する。
func (c *Collector) RecordToggle(kind string, on bool) {
	result := "off"
	if on {
		result = "on"
	}
	c.toggles.WithLabelValues(kind, result).Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordStorageDeleteFailure はオブジェクト削除失敗を記録する。
func (c *Collector) RecordStorageDeleteFailure() {
	c.storageDeleteFailure.Inc()
}

// RecordOrphansSwept は削除した孤立オブジェクト数を記録する。
func (c *Collector) RecordOrphansSwept(count int) {
	c.orphansSwept.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス不要な構成やテストで使用する。
type Nop struct{}

func (Nop) RecordToggle(string, bool)          {}
func (Nop) RecordAuthFailure(string)           {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordStorageDeleteFailure()        {}
func (Nop) RecordOrphansSwept(int)             {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewHTTPMiddleware はレスポンスのステータスコードとレイテンシを記録するミドルウェアを返す。
func NewHTTPMiddleware(collector MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			collector.RecordHTTPStatus(rec.statusCode)
			collector.RecordRequestLatency(time.Since(start))
		})
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.statusCode = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}
