// ============================================================================
// Beam Orchestrator Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露 beam 建立與任務提交的指標
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - beam_beams_created_total: 成功建立的 beam 數
//      - beam_beam_failures_total{reason}: 建立失敗的 beam 數（invalid_partition / misaligned / naming / submission）
//      - beam_task_submissions_total: 成功提交的任務數
//      - beam_task_submission_failures_total: 提交失敗的任務數
//      - beam_records_decoded_total{shape}: 解碼的持久化記錄數（current / legacy）
//
//   2. 分佈 (Histogram)：
//      - beam_task_submit_latency_seconds: 單一任務提交延遲
//
//   3. 狀態 (Gauge)：
//      - beam_overlord_tasks{status}: overlord 端各狀態任務數
//
// Prometheus 查詢示例:
//
//   # 提交失敗率
//   rate(beam_task_submission_failures_total[5m]) / rate(beam_task_submissions_total[5m])
//
//   # 95 分位提交延遲
//   histogram_quantile(0.95, beam_task_submit_latency_seconds_bucket)
//
// 匯出方式:
//   - serve: StartServer 提供 /metrics 給 Prometheus 抓取
//   - create / inspect: 一次性指令結束前以 Push 推送到 Pushgateway
//
// 所有方法在 nil *Collector 上都是 no-op，方便不需要指標的呼叫端直接傳 nil。
//
// ============================================================================

package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// beam 相關指標
	beamsCreated prometheus.Counter
	beamFailures *prometheus.CounterVec

	// 任務提交指標
	tasksSubmitted    prometheus.Counter
	submissionFailure prometheus.Counter
	submitLatency     prometheus.Histogram

	// 持久化記錄
	recordsDecoded *prometheus.CounterVec

	// overlord 狀態
	overlordTasks *prometheus.GaugeVec
}

// NewCollector 創建新的指標收集器，並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	c := &Collector{
		beamsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beam_beams_created_total",
			Help: "Total number of beams created",
		}),
		beamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beam_beam_failures_total",
			Help: "Total number of beam creations that failed",
		}, []string{"reason"}),
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beam_task_submissions_total",
			Help: "Total number of tasks accepted by the task-execution service",
		}),
		submissionFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beam_task_submission_failures_total",
			Help: "Total number of task submissions that failed",
		}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beam_task_submit_latency_seconds",
			Help:    "Task submission latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beam_records_decoded_total",
			Help: "Total number of persisted beam records decoded, by record shape",
		}, []string{"shape"}),
		overlordTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beam_overlord_tasks",
			Help: "Current number of tasks known to the overlord, by status",
		}, []string{"status"}),
	}

	// 註冊所有指標
	prometheus.MustRegister(c.beamsCreated)
	prometheus.MustRegister(c.beamFailures)
	prometheus.MustRegister(c.tasksSubmitted)
	prometheus.MustRegister(c.submissionFailure)
	prometheus.MustRegister(c.submitLatency)
	prometheus.MustRegister(c.recordsDecoded)
	prometheus.MustRegister(c.overlordTasks)

	return c
}

// RecordBeamCreated 記錄 beam 建立成功
func (c *Collector) RecordBeamCreated() {
	if c == nil {
		return
	}
	c.beamsCreated.Inc()
}

// RecordBeamFailure 記錄 beam 建立失敗
func (c *Collector) RecordBeamFailure(reason string) {
	if c == nil {
		return
	}
	c.beamFailures.WithLabelValues(reason).Inc()
}

// RecordSubmission 記錄一次任務提交結果與延遲
func (c *Collector) RecordSubmission(latencySeconds float64, err error) {
	if c == nil {
		return
	}
	c.submitLatency.Observe(latencySeconds)
	if err != nil {
		c.submissionFailure.Inc()
		return
	}
	c.tasksSubmitted.Inc()
}

// RecordDecoded 記錄解碼的記錄形狀
func (c *Collector) RecordDecoded(shape string) {
	if c == nil {
		return
	}
	c.recordsDecoded.WithLabelValues(shape).Inc()
}

// UpdateOverlordStats 更新 overlord 任務狀態統計
func (c *Collector) UpdateOverlordStats(stats map[string]int) {
	if c == nil {
		return
	}
	for status, n := range stats {
		c.overlordTasks.WithLabelValues(status).Set(float64(n))
	}
}

// Push 將 beam、提交與解碼指標推送到 Pushgateway，job 為分組名稱
// overlord 狀態只由 serve 透過 /metrics 暴露，不在此推送
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).
		Collector(c.beamsCreated).
		Collector(c.beamFailures).
		Collector(c.tasksSubmitted).
		Collector(c.submissionFailure).
		Collector(c.submitLatency).
		Collector(c.recordsDecoded)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
