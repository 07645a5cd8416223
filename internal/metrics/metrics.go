// Package metrics 提供 clawdice 客户端的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clawdice"

// 下注流程指标
var (
	// BetsPlacedTotal 下注总数
	BetsPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bets_placed_total",
			Help:      "下注总数",
		},
		[]string{"path", "status"}, // path: wallet/session, status: confirmed/failed/cancelled
	)

	// ClaimsTotal 开奖总数
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "开奖总数",
		},
		[]string{"path", "outcome"}, // path: sponsored/wallet, outcome: won/lost/foreign/failed
	)

	// BlockWaitDuration 等待目标区块耗时
	BlockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_wait_duration_seconds",
			Help:      "等待目标区块出块耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)

	// FlowDuration 单笔下注全流程耗时
	FlowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "下注到出结果的总耗时(秒)",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"result"},
	)

	// OwnershipMismatchTotal 观察到他人事件的次数
	OwnershipMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_mismatch_total",
			Help:      "开奖事件属于其他玩家而被丢弃的次数",
		},
	)
)

// 代付中继指标
var (
	// SponsoredTotal 代付提交总数
	SponsoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sponsored_submissions_total",
			Help:      "代付提交总数",
		},
		[]string{"status"}, // ok, failed, short_circuit
	)

	// SponsorFallbackTotal 代付失败回退钱包次数
	SponsorFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sponsor_fallback_total",
			Help:      "代付失败后回退到钱包签名的次数",
		},
	)

	// RelayBreakerState 中继熔断器状态
	RelayBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_breaker_state",
			Help:      "中继熔断器状态 (0=closed, 1=open, 2=half_open)",
		},
	)
)

// 会话与自动开奖指标
var (
	// SessionTransitionsTotal 会话状态变化
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "会话状态变化次数",
		},
		[]string{"status"},
	)

	// SweepRevealsTotal 自动开奖结果
	SweepRevealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reveals_total",
			Help:      "自动开奖处理数",
		},
		[]string{"result"}, // revealed, foreign, skipped, failed
	)
)

// 索引服务指标
var (
	// IndexerQueryDuration 索引查询耗时
	IndexerQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "indexer_query_duration_seconds",
			Help:      "索引服务查询耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// LiveEventsTotal 实时订阅收到的事件数
	LiveEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_total",
			Help:      "实时订阅收到的下注事件数",
		},
	)

	// KafkaMessagesTotal Kafka 消息数
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_total",
			Help:      "Kafka 消息发布数",
		},
		[]string{"topic", "status"},
	)
)

// 本地控制接口指标
var (
	// HTTPRequestsTotal HTTP 请求数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WSConnections 当前 WebSocket 连接数
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "当前 WebSocket 连接数",
		},
	)

	// WSMessagesTotal WebSocket 推送数
	WSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket 推送消息数",
		},
		[]string{"channel"},
	)

	// WSMessagesDropped 广播队列满被丢弃的消息
	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "广播队列已满而丢弃的消息数",
		},
	)

	// JobRunsTotal 定时任务执行次数
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "定时任务执行次数",
		},
		[]string{"job", "status"},
	)

	// JobDuration 定时任务耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定时任务耗时(秒)",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)
)

// RecordBetPlaced 记录下注
func RecordBetPlaced(path, status string) {
	BetsPlacedTotal.WithLabelValues(path, status).Inc()
}

// RecordClaim 记录开奖
func RecordClaim(path, outcome string) {
	ClaimsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordSponsored 记录代付提交
func RecordSponsored(status string) {
	SponsoredTotal.WithLabelValues(status).Inc()
}

// RecordSessionTransition 记录会话状态变化
func RecordSessionTransition(status string) {
	SessionTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordSweep 记录自动开奖
func RecordSweep(result string) {
	SweepRevealsTotal.WithLabelValues(result).Inc()
}

// RecordIndexerQuery 记录索引查询
func RecordIndexerQuery(status string, durationSeconds float64) {
	IndexerQueryDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	KafkaMessagesTotal.WithLabelValues(topic, status).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordWSConnection 连接建立或断开
func RecordWSConnection(connected bool) {
	if connected {
		WSConnections.Inc()
		return
	}
	WSConnections.Dec()
}

// RecordJob 记录一次定时任务执行, status: success, failed, skipped
func RecordJob(job, status string, durationSeconds float64) {
	JobRunsTotal.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		JobDuration.WithLabelValues(job).Observe(durationSeconds)
	}
}

// UpdateBreakerState 更新熔断器状态
func UpdateBreakerState(state int) {
	RelayBreakerState.Set(float64(state))
}
