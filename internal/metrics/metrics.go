// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// guard.Recorderを実装し、ガードの判定結果を記録する。
type Collector struct {
	decisions        *prometheus.CounterVec
	identityLookup   prometheus.Histogram
	identityFailures prometheus.Counter
	superseded       prometheus.Counter
	stockRestocked   prometheus.Counter
	panics           prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supply_guard_decisions_total",
			Help: "ルートと判定結果ごとのナビゲーション判定数",
		}, []string{"route", "outcome"}),
		identityLookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "supply_identity_lookup_seconds",
			Help:    "ユーザー情報の問い合わせにかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		identityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supply_identity_lookup_failures_total",
			Help: "ユーザー情報の問い合わせに失敗した回数",
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supply_navigation_superseded_total",
			Help: "新しいナビゲーションにより破棄された判定の数",
		}),
		stockRestocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supply_stock_restocked_units_total",
			Help: "入荷した在庫数の合計",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supply_http_panics_total",
			Help: "ハンドラーで回復したpanicの数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supply_http_requests_total",
			Help: "メソッド、ルート、ステータスクラス別のHTTPリクエスト数",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "supply_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.decisions,
		c.identityLookup,
		c.identityFailures,
		c.superseded,
		c.stockRestocked,
		c.panics,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// RecordDecision はガードの判定結果を記録する。
func (c *Collector) RecordDecision(routeName string, outcome string) {
	c.decisions.WithLabelValues(routeName, outcome).Inc()
}

// RecordIdentityLookup はユーザー情報の問い合わせ時間と失敗を記録する。
func (c *Collector) RecordIdentityLookup(duration time.Duration, err error) {
	c.identityLookup.Observe(duration.Seconds())
	if err != nil {
		c.identityFailures.Inc()
	}
}

// RecordSuperseded は破棄されたナビゲーションを記録する。
func (c *Collector) RecordSuperseded() {
	c.superseded.Inc()
}

// RecordRestock は入荷数を記録する。
func (c *Collector) RecordRestock(quantity int) {
	c.stockRestocked.Add(float64(quantity))
}

// RecordPanic はハンドラーで回復したpanicを記録する。
func (c *Collector) RecordPanic() {
	c.panics.Inc()
}

// Middleware はHTTPリクエスト数と処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターンを使い、未登録のパスは"unmatched"とする。
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				pattern = p
			}
		}
		class := strconv.Itoa(sw.status/100) + "xx"

		c.httpRequests.WithLabelValues(r.Method, pattern, class).Inc()
		c.httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// statusWriter はステータスコードを記録するhttp.ResponseWriter。
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerから元のWriterを参照できるようにする。
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
