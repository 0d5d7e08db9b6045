// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(method, outcome string)
	RecordRegistration(method string)
	RecordGeneration(contentType, outcome string)
	RecordGenerationLatency(duration time.Duration)
	RecordCreditsDebited(credits int)
	RecordPlanChange(from, to string)
	RecordChannelFetchFailure(reason string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	creditsDebited    prometheus.Counter
	planChanges       *prometheus.CounterVec
	channelFetchFail  *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_logins_total",
			Help: "ログイン試行数（方式・結果別）",
		}, []string{"method", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_registrations_total",
			Help: "新規登録数（方式別）",
		}, []string{"method"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_generations_total",
			Help: "生成リクエスト数（content type・結果別）",
		}, []string{"content_type", "outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "retinaseo_generation_latency_seconds",
			Help:    "生成サービス呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		creditsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retinaseo_credits_debited_total",
			Help: "消費されたクレジットの合計",
		}),
		planChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_plan_changes_total",
			Help: "プラン変更数（変更前・変更後別）",
		}, []string{"from", "to"}),
		channelFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_channel_fetch_fail_total",
			Help: "チャンネルフィード取得失敗数（理由別）",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retinaseo_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.generations,
		c.generationLatency,
		c.creditsDebited,
		c.planChanges,
		c.channelFetchFail,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordRegistration は新規登録を記録する。
func (c *Collector) RecordRegistration(method string) {
	c.registrations.WithLabelValues(method).Inc()
}

// RecordGeneration は生成リクエストの結果を記録する。
func (c *Collector) RecordGeneration(contentType, outcome string) {
	c.generations.WithLabelValues(contentType, outcome).Inc()
}

// RecordGenerationLatency は生成サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordCreditsDebited は消費クレジットを記録する。
func (c *Collector) RecordCreditsDebited(credits int) {
	c.creditsDebited.Add(float64(credits))
}

// RecordPlanChange はプラン変更を記録する。
func (c *Collector) RecordPlanChange(from, to string) {
	c.planChanges.WithLabelValues(from, to).Inc()
}

// RecordChannelFetchFailure はチャンネルフィード取得失敗を記録する。
func (c *Collector) RecordChannelFetchFailure(reason string) {
	c.channelFetchFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string, string)            {}
func (Nop) RecordRegistration(string)             {}
func (Nop) RecordGeneration(string, string)       {}
func (Nop) RecordGenerationLatency(time.Duration) {}
func (Nop) RecordCreditsDebited(int)              {}
func (Nop) RecordPlanChange(string, string)       {}
func (Nop) RecordChannelFetchFailure(string)      {}
func (Nop) RecordHTTPStatus(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
