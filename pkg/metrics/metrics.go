package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 单条消息分析延迟（毫秒）
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_latency_ms",
			Help:    "Per-message analysis latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"mode"}, // mode: ai, fallback
	)

	// AI 调用延迟（毫秒）
	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_call_latency_ms",
			Help:    "AI inference call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"check", "status"},
	)

	// Cron 运行时长（秒）
	CronRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cron_run_duration_seconds",
			Help:    "Duration of a full scheduler run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// 消息分析计数
	MessagesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_analyzed_total",
			Help: "Total number of messages analyzed",
		},
		[]string{"outcome"}, // outcome: ok, spam, error
	)

	// 自动化动作计数
	AutomationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_actions_total",
			Help: "Total automation actions taken or rejected",
		},
		[]string{"action", "decision"}, // action: auto_delete, auto_reply; decision: applied, rejected
	)

	// 离线操作处理计数
	QueueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total offline queue operations processed",
		},
		[]string{"type", "result"}, // result: completed, retried, failed, skipped
	)

	// 推送发送计数
	PushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_sends_total",
			Help: "Total push notifications sent",
		},
		[]string{"kind", "status"}, // kind: immediate, batch, single; status: ok, error
	)

	// 批次大小
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_batch_size",
			Help:    "Number of messages per flushed notification batch",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	// 被丢弃的 analyzed 事件（发布队列满）
	AnalyzedEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analyzed_events_dropped_total",
			Help: "Analyzed events dropped because the publish buffer was full",
		},
	)
)

// RecordAnalysisLatency 记录分析延迟
func RecordAnalysisLatency(mode string, duration time.Duration) {
	AnalysisLatency.WithLabelValues(mode).Observe(float64(duration.Milliseconds()))
}

// RecordAICallLatency 记录 AI 调用延迟
func RecordAICallLatency(check, status string, duration time.Duration) {
	AICallLatency.WithLabelValues(check, status).Observe(float64(duration.Milliseconds()))
}

// RecordCronRun 记录一次完整调度运行
func RecordCronRun(duration time.Duration) {
	CronRunDuration.Observe(duration.Seconds())
}

// IncrementAnalyzed 增加消息分析计数
func IncrementAnalyzed(outcome string) {
	MessagesAnalyzed.WithLabelValues(outcome).Inc()
}

// IncrementAutomation 增加自动化动作计数
func IncrementAutomation(action, decision string) {
	AutomationActions.WithLabelValues(action, decision).Inc()
}

// IncrementQueueOp 增加离线操作计数
func IncrementQueueOp(opType, result string) {
	QueueOperations.WithLabelValues(opType, result).Inc()
}

// IncrementPushSend 增加推送计数
func IncrementPushSend(kind, status string) {
	PushSends.WithLabelValues(kind, status).Inc()
}

// ObserveBatchSize 记录批次大小
func ObserveBatchSize(n int) {
	BatchSize.Observe(float64(n))
}
