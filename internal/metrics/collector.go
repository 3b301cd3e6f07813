// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Drop reasons for audio fragments that never reach the client.
const (
	DropArbitration = "arbitration"
	DropDoubleSpeak = "double_speak"
	DropStale       = "stale"
	DropClientError = "client_error"
)

// Inbox events.
const (
	InboxRequeued        = "requeued"
	InboxDroppedRetry    = "dropped_retry"
	InboxDroppedOverflow = "dropped_overflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	clientSessions      prometheus.Gauge

	// 仲裁指标
	turnDecisions    *prometheus.CounterVec
	watchdogReclaims *prometheus.CounterVec
	fragmentsDropped *prometheus.CounterVec

	// 连接指标
	reconnects      *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	inboxEvents     *prometheus.CounterVec
	inboxDepth      *prometheus.GaugeVec

	// 转述指标
	crossRelays     *prometheus.CounterVec
	loopCeilingHits prometheus.Counter

	// 播报指标
	announcements      *prometheus.CounterVec
	announcementChunks *prometheus.CounterVec

	// 工具指标
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.clientSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_sessions_active",
			Help:      "Number of connected client sessions",
		},
	)

	// 仲裁指标
	c.turnDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_decisions_total",
			Help:      "Total number of turn acquisition decisions",
		},
		[]string{"speaker", "result"}, // result: granted, denied
	)

	c.watchdogReclaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_reclaims_total",
			Help:      "Total number of turns reclaimed by the watchdog",
		},
		[]string{"speaker", "reason"},
	)

	c.fragmentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_fragments_dropped_total",
			Help:      "Total number of model audio fragments not forwarded to the client",
		},
		[]string{"persona", "reason"},
	)

	// 连接指标
	c.reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persona_reconnects_total",
			Help:      "Total number of persona connection attempts after a failure",
		},
		[]string{"persona"},
	)

	c.connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persona_connected",
			Help:      "Whether the persona connection is up (1) or not (0)",
		},
		[]string{"persona"},
	)

	c.inboxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_events_total",
			Help:      "Inbox requeues and drops",
		},
		[]string{"persona", "event"},
	)

	c.inboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_depth",
			Help:      "Number of messages waiting in a persona inbox",
		},
		[]string{"persona"},
	)

	// 转述指标
	c.crossRelays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cross_relays_total",
			Help:      "Total number of persona utterances relayed to peers",
		},
		[]string{"from"},
	)

	c.loopCeilingHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_ceiling_hits_total",
			Help:      "Total number of times agent cross-talk hit the turn ceiling",
		},
	)

	// 播报指标
	c.announcements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Total number of proactive announcements",
		},
		[]string{"persona", "status"},
	)

	c.announcementChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcement_chunks_total",
			Help:      "Total number of announcement chunks delivered",
		},
		[]string{"persona"},
	)

	// 工具指标
	c.toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ClientSessionOpened 记录客户端会话建立
func (c *Collector) ClientSessionOpened() {
	if c == nil {
		return
	}
	c.clientSessions.Inc()
}

// ClientSessionClosed 记录客户端会话关闭
func (c *Collector) ClientSessionClosed() {
	if c == nil {
		return
	}
	c.clientSessions.Dec()
}

// =============================================================================
// 🎙️ 仲裁指标记录
// =============================================================================

// RecordTurnDecision 记录一次发言权申请结果
func (c *Collector) RecordTurnDecision(speaker string, granted bool) {
	if c == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	c.turnDecisions.WithLabelValues(speaker, result).Inc()
}

// RecordWatchdogReclaim 记录看门狗回收
func (c *Collector) RecordWatchdogReclaim(speaker, reason string) {
	if c == nil {
		return
	}
	c.watchdogReclaims.WithLabelValues(speaker, reason).Inc()
}

// RecordFragmentDropped 记录未转发给客户端的音频片段
func (c *Collector) RecordFragmentDropped(persona, reason string) {
	if c == nil {
		return
	}
	c.fragmentsDropped.WithLabelValues(persona, reason).Inc()
}

// =============================================================================
// 🔌 连接指标记录
// =============================================================================

// RecordReconnect 记录重连
func (c *Collector) RecordReconnect(persona string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(persona).Inc()
}

// SetConnected 设置连接状态
func (c *Collector) SetConnected(persona string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.connectionState.WithLabelValues(persona).Set(v)
}

// RecordInboxEvent 记录收件箱重入队或丢弃
func (c *Collector) RecordInboxEvent(persona, event string) {
	if c == nil {
		return
	}
	c.inboxEvents.WithLabelValues(persona, event).Inc()
}

// SetInboxDepth 设置收件箱深度
func (c *Collector) SetInboxDepth(persona string, depth int) {
	if c == nil {
		return
	}
	c.inboxDepth.WithLabelValues(persona).Set(float64(depth))
}

// =============================================================================
// 🔁 转述指标记录
// =============================================================================

// RecordCrossRelay 记录跨角色转述
func (c *Collector) RecordCrossRelay(from string) {
	if c == nil {
		return
	}
	c.crossRelays.WithLabelValues(from).Inc()
}

// RecordLoopCeiling 记录轮次上限命中
func (c *Collector) RecordLoopCeiling() {
	if c == nil {
		return
	}
	c.loopCeilingHits.Inc()
}

// =============================================================================
// 📢 播报指标记录
// =============================================================================

// RecordAnnouncement 记录一次播报
func (c *Collector) RecordAnnouncement(persona, status string) {
	if c == nil {
		return
	}
	c.announcements.WithLabelValues(persona, status).Inc()
}

// RecordAnnouncementChunk 记录一个已送达的播报分块
func (c *Collector) RecordAnnouncementChunk(persona string) {
	if c == nil {
		return
	}
	c.announcementChunks.WithLabelValues(persona).Inc()
}

// =============================================================================
// 🔧 工具指标记录
// =============================================================================

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(tool, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
