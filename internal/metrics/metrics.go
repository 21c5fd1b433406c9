// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(result string)
	RecordProviderCall(operation string, result string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordTokenRefresh(result string)
	RecordChannelDeactivated(reason string)
	RecordRenewalSweep(channelCount int)
}

// 認証・プロバイダー呼び出しの結果ラベル
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts        *prometheus.CounterVec
	providerCalls       *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	tokenRefreshes      *prometheus.CounterVec
	channelDeactivated  *prometheus.CounterVec
	renewalSweeps       prometheus.Counter
	renewalSweepedTotal prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdesk_auth_attempts_total",
			Help: "ログイン試行の結果別の合計数",
		}, []string{"result"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdesk_provider_calls_total",
			Help: "外部プロバイダー呼び出しの操作・結果別の合計数",
		}, []string{"operation", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opsdesk_provider_latency_seconds",
			Help:    "外部プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdesk_token_refreshes_total",
			Help: "アクセストークンリフレッシュの結果別の合計数",
		}, []string{"result"}),
		channelDeactivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdesk_channels_deactivated_total",
			Help: "無効化されたチャネルの理由別の合計数",
		}, []string{"reason"}),
		renewalSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsdesk_renewal_sweeps_total",
			Help: "更新スイープ実行の合計数",
		}),
		renewalSweepedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsdesk_renewal_sweeped_channels_total",
			Help: "更新スイープで処理されたチャネルの合計数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.providerCalls,
		c.providerLatency,
		c.tokenRefreshes,
		c.channelDeactivated,
		c.renewalSweeps,
		c.renewalSweepedTotal,
	)

	return c
}

// RecordAuthAttempt はログイン試行の結果を記録する。
func (c *Collector) RecordAuthAttempt(result string) {
	c.authAttempts.WithLabelValues(result).Inc()
}

// RecordProviderCall はプロバイダー呼び出しの結果を記録する。
func (c *Collector) RecordProviderCall(operation string, result string) {
	c.providerCalls.WithLabelValues(operation, result).Inc()
}

// RecordProviderLatency はプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordChannelDeactivated はチャネル無効化を理由付きで記録する。
func (c *Collector) RecordChannelDeactivated(reason string) {
	c.channelDeactivated.WithLabelValues(reason).Inc()
}

// RecordRenewalSweep は更新スイープの実行と処理チャネル数を記録する。
func (c *Collector) RecordRenewalSweep(channelCount int) {
	c.renewalSweeps.Inc()
	c.renewalSweepedTotal.Add(float64(channelCount))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
