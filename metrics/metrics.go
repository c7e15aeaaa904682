// Package metrics 定义推荐服务的 Prometheus 指标。
//
// 所有方法对 nil *Metrics 安全，未配置指标时各组件可以直接调用。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "animerec"

// Metrics 聚合推荐链路的全部指标。
type Metrics struct {
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	Fallbacks       *prometheus.CounterVec
	BlendWeight     *prometheus.GaugeVec
	ValidationRMSE  *prometheus.GaugeVec
	TrainRuns       *prometheus.CounterVec
	FeedbackEvents  *prometheus.CounterVec
}

// New 创建指标并注册到 reg；reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommend_requests_total",
				Help:      "Total number of recommendation requests",
			},
			[]string{"strategy"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recommend_duration_seconds",
				Help:      "Recommendation request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"strategy"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total recommendation cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total recommendation cache misses",
			},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Scorer fallbacks by source and reason",
			},
			[]string{"source", "reason"},
		),
		BlendWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blend_weight",
				Help:      "Current local/external blend weights",
			},
			[]string{"source"},
		),
		ValidationRMSE: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validation_rmse",
				Help:      "Validation RMSE of the last training run",
			},
			[]string{"source"},
		),
		TrainRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "train_runs_total",
				Help:      "Training runs by status",
			},
			[]string{"status"},
		),
		FeedbackEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_events_total",
				Help:      "Feedback events by status",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.RequestTotal, m.RequestDuration, m.CacheHits, m.CacheMisses,
			m.Fallbacks, m.BlendWeight, m.ValidationRMSE, m.TrainRuns, m.FeedbackEvents,
		)
	}
	return m
}

func (m *Metrics) ObserveRequest(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(strategy).Inc()
	m.RequestDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) Fallback(source, reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(source, reason).Inc()
}

// SetWeights 记录当前混合权重。
func (m *Metrics) SetWeights(local, external float64) {
	if m == nil {
		return
	}
	m.BlendWeight.WithLabelValues("local").Set(local)
	m.BlendWeight.WithLabelValues("external").Set(external)
}

func (m *Metrics) SetRMSE(source string, rmse float64) {
	if m == nil {
		return
	}
	m.ValidationRMSE.WithLabelValues(source).Set(rmse)
}

func (m *Metrics) TrainRun(status string) {
	if m == nil {
		return
	}
	m.TrainRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) Feedback(status string) {
	if m == nil {
		return
	}
	m.FeedbackEvents.WithLabelValues(status).Inc()
}
