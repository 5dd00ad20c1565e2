// Package metrics 定义服务端的 Prometheus 指标
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 补全流结果
const (
	StreamCompleted = "completed"
	StreamCanceled  = "canceled"
	StreamFailed    = "failed"
	StreamRejected  = "rejected"
)

var (
	// CompletionStreams 转发的补全流，按结果分类
	CompletionStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "career_coach",
		Name:      "completion_streams_total",
		Help:      "Completion streams relayed to the upstream model, by outcome.",
	}, []string{"outcome"})

	// CompletionDeltas 转发的文本增量数量
	CompletionDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "career_coach",
		Name:      "completion_deltas_total",
		Help:      "Text deltas written to clients.",
	})

	// CompletionDuration 单个补全流的持续时间
	CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "career_coach",
		Name:      "completion_stream_duration_seconds",
		Help:      "Wall time of a relayed completion stream.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	})

	// MessageReplaces 消息快照写入次数
	MessageReplaces = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "career_coach",
		Name:      "message_replaces_total",
		Help:      "Full message snapshots written to the store.",
	})

	// CacheLookups 缓存查询，按类型和是否命中分类
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "career_coach",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by kind and result.",
	}, []string{"kind", "result"})

	// EventClients 当前连接的事件推送客户端数量
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "career_coach",
		Name:      "event_clients",
		Help:      "Connected websocket event clients.",
	})
)

// CacheResult 把是否命中转成标签值
func CacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// Handler 返回 /metrics 的 gin 处理函数
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
