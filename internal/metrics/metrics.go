// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordSignUp()
	RecordSignInSuccess()
	RecordSignInFailure()
	RecordPasswordReset()
	RecordRateLimitRejection()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signUps        prometheus.Counter
	signInSuccess  prometheus.Counter
	signInFail     prometheus.Counter
	passwordResets prometheus.Counter
	rateLimitHits  prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_signups_total",
			Help: "ユーザー登録の合計数",
		}),
		signInSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_signin_success_total",
			Help: "サインイン成功の合計数",
		}),
		signInFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_signin_fail_total",
			Help: "サインイン失敗の合計数",
		}),
		passwordResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_password_resets_total",
			Help: "完了したパスワードリセットの合計数",
		}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authman_rate_limit_rejections_total",
			Help: "レート制限で拒否されたリクエストの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authman_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.signUps,
		c.signInSuccess,
		c.signInFail,
		c.passwordResets,
		c.rateLimitHits,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordSignUp はユーザー登録を記録する。
func (c *Collector) RecordSignUp() {
	c.signUps.Inc()
}

// RecordSignInSuccess はサインイン成功を記録する。
func (c *Collector) RecordSignInSuccess() {
	c.signInSuccess.Inc()
}

// RecordSignInFailure はサインイン失敗を記録する。
func (c *Collector) RecordSignInFailure() {
	c.signInFail.Inc()
}

// RecordPasswordReset は完了したパスワードリセットを記録する。
func (c *Collector) RecordPasswordReset() {
	c.passwordResets.Inc()
}

// RecordRateLimitRejection はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimitRejection() {
	c.rateLimitHits.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
