package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/businessdata-uk/endole-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	recordsStored   prometheus.Counter
	egressRotations prometheus.Counter
	runsActive      prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "endole_tasks_total",
			Help: "Extraction tasks processed, partitioned by result.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "endole_task_duration_seconds",
			Help:    "Wall time per extraction task, partitioned by result.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endole_records_stored_total",
			Help: "Business records written to the store.",
		}),
		egressRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endole_egress_rotations_total",
			Help: "VPN egress identity rotations performed.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "endole_runs_active",
			Help: "Crawl runs currently in flight.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksTotal,
		s.taskDuration,
		s.recordsStored,
		s.egressRotations,
		s.runsActive,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors for one event. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsActive.Inc()
	case progress.StageRunDone:
		s.runsActive.Dec()
	case progress.StageTaskDone:
		s.tasksTotal.WithLabelValues("success").Inc()
		s.recordsStored.Add(float64(evt.Records))
		s.observeDuration(evt, "success")
	case progress.StageTaskError:
		s.tasksTotal.WithLabelValues("error").Inc()
		s.observeDuration(evt, "error")
	case progress.StageTaskSkip:
		s.tasksTotal.WithLabelValues("skipped").Inc()
	case progress.StageEgressRotate:
		s.egressRotations.Inc()
	}
	return nil
}

func (s *PrometheusSink) observeDuration(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
