package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("hybrid", 10*time.Millisecond)
	m.ObserveRequest("hybrid", 20*time.Millisecond)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.Fallback("recall.u2i", "insufficient_data")
	m.SetWeights(0.6, 0.4)
	m.SetRMSE("local", 0.9)
	m.TrainRun("ok")
	m.Feedback("applied")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{name: "requests", c: m.RequestTotal.WithLabelValues("hybrid"), want: 2},
		{name: "cache hits", c: m.CacheHits, want: 1},
		{name: "cache misses", c: m.CacheMisses, want: 2},
		{name: "fallbacks", c: m.Fallbacks.WithLabelValues("recall.u2i", "insufficient_data"), want: 1},
		{name: "local weight", c: m.BlendWeight.WithLabelValues("local"), want: 0.6},
		{name: "rmse", c: m.ValidationRMSE.WithLabelValues("local"), want: 0.9},
		{name: "train runs", c: m.TrainRuns.WithLabelValues("ok"), want: 1},
		{name: "feedback", c: m.FeedbackEvents.WithLabelValues("applied"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("cf", time.Second)
	m.CacheHit()
	m.CacheMiss()
	m.Fallback("x", "y")
	m.SetWeights(0.5, 0.5)
	m.SetRMSE("local", 1)
	m.TrainRun("failed")
	m.Feedback("ok")
}
