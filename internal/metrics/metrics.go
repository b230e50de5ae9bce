// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 生成結果のラベル値
const (
	GeneratorResultSuccess  = "success"
	GeneratorResultFallback = "fallback"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲームサービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordGameCreated()
	RecordPhaseTransition(phase string)
	RecordGeneratorCall(result string, duration time.Duration)
	RecordRejectedAction(code string)
	RecordRoundsScheduled(count int)
	RecordHTTPStatus(statusCode int)
	RecordGamesCleaned(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gamesCreated     prometheus.Counter
	phaseTransitions *prometheus.CounterVec
	generatorCalls   *prometheus.CounterVec
	generatorLatency prometheus.Histogram
	rejectedActions  *prometheus.CounterVec
	roundsScheduled  prometheus.Counter
	httpStatus       *prometheus.CounterVec
	gamesCleaned     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gamesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impostor_games_created_total",
			Help: "作成されたゲームの合計数",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impostor_phase_transitions_total",
			Help: "遷移先フェーズ別のフェーズ遷移数",
		}, []string{"phase"}),
		generatorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impostor_generator_calls_total",
			Help: "結果別のAI回答生成の呼び出し数",
		}, []string{"result"}),
		generatorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "impostor_generator_latency_seconds",
			Help:    "AI回答生成のレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		rejectedActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impostor_rejected_actions_total",
			Help: "エラーコード別の拒否された操作数",
		}, []string{"code"}),
		roundsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impostor_rounds_scheduled_total",
			Help: "スケジュールされたラウンドの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impostor_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		gamesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impostor_games_cleaned_total",
			Help: "クリーンアップで削除されたゲームの合計数",
		}),
	}

	reg.MustRegister(
		c.gamesCreated,
		c.phaseTransitions,
		c.generatorCalls,
		c.generatorLatency,
		c.rejectedActions,
		c.roundsScheduled,
		c.httpStatus,
		c.gamesCleaned,
	)

	return c
}

// RecordGameCreated はゲーム作成を記録する。
func (c *Collector) RecordGameCreated() {
	c.gamesCreated.Inc()
}

// RecordPhaseTransition はフェーズ遷移を記録する。
func (c *Collector) RecordPhaseTransition(phase string) {
	c.phaseTransitions.WithLabelValues(phase).Inc()
}

// RecordGeneratorCall はAI回答生成の結果とレイテンシを記録する。
func (c *Collector) RecordGeneratorCall(result string, duration time.Duration) {
	c.generatorCalls.WithLabelValues(result).Inc()
	c.generatorLatency.Observe(duration.Seconds())
}

// RecordRejectedAction は拒否された操作をエラーコード別に記録する。
func (c *Collector) RecordRejectedAction(code string) {
	c.rejectedActions.WithLabelValues(code).Inc()
}

// RecordRoundsScheduled はスケジュールされたラウンド数を記録する。
func (c *Collector) RecordRoundsScheduled(count int) {
	c.roundsScheduled.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordGamesCleaned はクリーンアップで削除したゲーム数を記録する。
func (c *Collector) RecordGamesCleaned(count int) {
	c.gamesCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordGameCreated() {}
func (Nop) RecordPhaseTransition(string) {}
func (Nop) RecordGeneratorCall(string, time.Duration) {}
func (Nop) RecordRejectedAction(string) {}
func (Nop) RecordRoundsScheduled(int) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordGamesCleaned(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
