// Package metrics Prometheus 指标：共享流统计和应答端会话
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coreerrors "sharedstream/internal/core/errors"
	"sharedstream/internal/stream/shared"
)

const namespace = "sharedstream"

// Metrics 一组指标及其注册表
// nil *Metrics 的方法都是空操作
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SessionErrors  *prometheus.CounterVec
	FramesTotal    prometheus.Counter
}

// New 创建独立注册表，包含共享流统计、Go 运行时和进程指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newSharedStreamCollector(),
	)

	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Current number of responder sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of responder sessions accepted",
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Responder sessions that ended with an error, by error code",
		}, []string{"code"}),
		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pong_frames_total",
			Help:      "Total number of PONG frames written",
		}),
	}
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// SessionStarted 会话开始
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionEnded 会话结束，err 非 nil 时按错误码计数
func (m *Metrics) SessionEnded(err error) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	if err != nil {
		m.SessionErrors.WithLabelValues(string(coreerrors.GetCode(err))).Inc()
	}
}

// FrameServed 写出一个 PONG
func (m *Metrics) FrameServed() {
	if m == nil {
		return
	}
	m.FramesTotal.Inc()
}

// sharedStreamCollector 采集时读取 shared.Snapshot
type sharedStreamCollector struct {
	wrapped    *prometheus.Desc
	released   *prometheus.Desc
	cloned     *prometheus.Desc
	poisoned   *prometheus.Desc
	brokenPipe *prometheus.Desc
	active     *prometheus.Desc
}

func newSharedStreamCollector() *sharedStreamCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "stream", name), help, nil, nil)
	}
	return &sharedStreamCollector{
		wrapped:    desc("wrapped_total", "Shared stream storages created"),
		released:   desc("released_total", "Shared stream storages released after their last handle closed"),
		cloned:     desc("cloned_total", "Shared stream handles cloned"),
		poisoned:   desc("poisoned_total", "Shared stream storages poisoned by a panic while locked"),
		brokenPipe: desc("broken_pipe_total", "Operations rejected with broken pipe on a poisoned storage"),
		active:     desc("active", "Shared stream storages still alive"),
	}
}

func (c *sharedStreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.wrapped
	ch <- c.released
	ch <- c.cloned
	ch <- c.poisoned
	ch <- c.brokenPipe
	ch <- c.active
}

func (c *sharedStreamCollector) Collect(ch chan<- prometheus.Metric) {
	s := shared.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.wrapped, prometheus.CounterValue, float64(s.Wrapped))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.cloned, prometheus.CounterValue, float64(s.Cloned))
	ch <- prometheus.MustNewConstMetric(c.poisoned, prometheus.CounterValue, float64(s.Poisoned))
	ch <- prometheus.MustNewConstMetric(c.brokenPipe, prometheus.CounterValue, float64(s.BrokenPipe))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active()))
}
