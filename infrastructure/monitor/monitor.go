package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersCreated   prometheus.Counter
	ordersConfirmed prometheus.Counter
	ordersFailed    prometheus.Counter

	// 队列指标
	queueWaiting   prometheus.Gauge
	queueActive    prometheus.Gauge
	queueDelayed   prometheus.Gauge
	queueCompleted prometheus.Gauge
	queueFailed    prometheus.Gauge

	// 任务执行指标
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsRetried   prometheus.Counter
	jobDuration   prometheus.Histogram

	// 路由指标
	routesSelected *prometheus.CounterVec
	routeLatency   prometheus.Histogram
	quoteLatency   *prometheus.HistogramVec
	quoteErrors    *prometheus.CounterVec

	// 订阅推送指标
	activeSubscribers prometheus.Gauge
	updatesPublished  prometheus.Counter
	updatesDropped    prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "router",
		Subsystem: "execution",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_created_total",
			Help:      "接收并入库的订单总数",
		}),
		ordersConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_confirmed_total",
			Help:      "达到CONFIRMED终态的订单总数",
		}),
		ordersFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_failed_total",
			Help:      "达到FAILED终态的订单总数",
		}),

		queueWaiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_waiting",
			Help:      "队列中等待执行的任务数",
		}),
		queueActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_active",
			Help:      "正在执行的任务数",
		}),
		queueDelayed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_delayed",
			Help:      "等待重试的延迟任务数",
		}),
		queueCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_completed",
			Help:      "保留窗口内已完成的任务数",
		}),
		queueFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_failed",
			Help:      "保留窗口内终态失败的任务数",
		}),

		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "jobs_completed_total",
			Help:      "任务执行成功总数",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "jobs_failed_total",
			Help:      "任务执行失败总数（含重试前的失败）",
		}),
		jobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "jobs_retried_total",
			Help:      "任务重试调度总数",
		}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "job_duration_seconds",
			Help:      "单次任务执行耗时",
			Buckets:   prometheus.DefBuckets,
		}),

		routesSelected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "routes_selected_total",
			Help:      "按场所统计的中选路由数",
		}, []string{"venue"}),
		routeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "route_select_seconds",
			Help:      "一次完整路由选择耗时（含并发询价与模拟执行）",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		quoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quote_seconds",
			Help:      "按场所统计的单次询价耗时",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}, []string{"venue"}),
		quoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quote_errors_total",
			Help:      "按场所统计的询价失败数",
		}, []string{"venue"}),

		activeSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_active_connections",
			Help:      "当前活跃的状态订阅连接数",
		}),
		updatesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "status_updates_published_total",
			Help:      "成功推送的状态消息总数",
		}),
		updatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "status_updates_dropped_total",
			Help:      "因订阅者不可写被丢弃的状态消息总数",
		}),
	}

	return m
}

func (m *Monitor) RecordOrderCreated()   { m.ordersCreated.Inc() }
func (m *Monitor) RecordOrderConfirmed() { m.ordersConfirmed.Inc() }
func (m *Monitor) RecordOrderFailed()    { m.ordersFailed.Inc() }

// UpdateQueueDepth 同步队列各状态的任务数量。
func (m *Monitor) UpdateQueueDepth(waiting, active, delayed, completed, failed int) {
	m.queueWaiting.Set(float64(waiting))
	m.queueActive.Set(float64(active))
	m.queueDelayed.Set(float64(delayed))
	m.queueCompleted.Set(float64(completed))
	m.queueFailed.Set(float64(failed))
}

func (m *Monitor) RecordJobCompleted(seconds float64) {
	m.jobsCompleted.Inc()
	m.jobDuration.Observe(seconds)
}

func (m *Monitor) RecordJobFailed(seconds float64) {
	m.jobsFailed.Inc()
	m.jobDuration.Observe(seconds)
}

func (m *Monitor) RecordJobRetried() { m.jobsRetried.Inc() }

func (m *Monitor) RecordRouteSelected(venue string, seconds float64) {
	m.routesSelected.WithLabelValues(venue).Inc()
	m.routeLatency.Observe(seconds)
}

func (m *Monitor) RecordQuote(venue string, seconds float64) {
	m.quoteLatency.WithLabelValues(venue).Observe(seconds)
}

func (m *Monitor) RecordQuoteError(venue string) {
	m.quoteErrors.WithLabelValues(venue).Inc()
}

// SetActiveSubscribers 更新活跃订阅连接数。
func (m *Monitor) SetActiveSubscribers(n int) {
	m.activeSubscribers.Set(float64(n))
}

func (m *Monitor) RecordUpdatePublished() { m.updatesPublished.Inc() }
func (m *Monitor) RecordUpdateDropped()   { m.updatesDropped.Inc() }

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回内部registry（测试用）
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
