package kvsession

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsHook counts session traffic. Register it as both a read hook and a
// write hook on a Pipeline.
type MetricsHook struct {
	reads  prometheus.Counter
	hits   prometheus.Counter
	writes *prometheus.CounterVec
}

// NewMetricsHook registers the session counters with reg. The counter names
// are fixed, so build one MetricsHook per registerer and share it between
// pipelines; a second registration on the same registerer panics.
func NewMetricsHook(reg prometheus.Registerer) (*MetricsHook, error) {
	if reg == nil {
		return nil, configError("metrics registerer is required")
	}
	return &MetricsHook{
		reads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "kvsession_reads_total",
				Help: "Total number of session reads",
			},
		),
		hits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "kvsession_read_hits_total",
				Help: "Total number of session reads that found a stored session",
			},
		),
		writes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvsession_writes_total",
				Help: "Total number of session writes by result",
			},
			[]string{"result"}, // "ok", "failed"
		),
	}, nil
}

func (m *MetricsHook) BeforeRead(context.Context, string) error {
	m.reads.Inc()
	return nil
}

func (m *MetricsHook) AfterRead(_ context.Context, _ string, data *Map) (*Map, error) {
	m.hits.Inc()
	return data, nil
}

func (m *MetricsHook) BeforeWrite(_ context.Context, _ string, data *Map) (*Map, error) {
	return data, nil
}

func (m *MetricsHook) AfterWrite(_ context.Context, _ string, ok bool) error {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.writes.WithLabelValues(result).Inc()
	return nil
}
