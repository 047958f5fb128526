package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SonicPilot/internal/dispatch"
	xerrors "SonicPilot/internal/errors"
)

const namespace = "sonicpilot"

// Metrics 汇总服务暴露的 Prometheus 指标，使用独立 Registry 便于测试。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpErrors      *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	sessionConflict prometheus.Counter
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_transitions_total",
			Help:      "Wizard advances grouped by flow and result kind.",
		}, []string{"flow", "result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_calls_total",
			Help:      "Dispatcher calls grouped by kind and error code.",
		}, []string{"kind", "code"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatcher call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		sessionConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_conflicts_total",
			Help:      "Session saves rejected because of a concurrent update.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpErrors,
		m.httpLatency,
		m.transitions,
		m.dispatches,
		m.dispatchLatency,
		m.sessionConflict,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTransition 记录一次向导推进的结果类型。
func (m *Metrics) ObserveTransition(flow, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(flow, result).Inc()
}

// ObserveSessionConflict 记录一次并发写冲突。
func (m *Metrics) ObserveSessionConflict() {
	if m == nil {
		return
	}
	m.sessionConflict.Inc()
}

// ObserveDispatch 实现 dispatch.Observer。
func (m *Metrics) ObserveDispatch(kind dispatch.Kind, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	m.dispatches.WithLabelValues(string(kind), code).Inc()
	m.dispatchLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ dispatch.Observer = (*Metrics)(nil)
