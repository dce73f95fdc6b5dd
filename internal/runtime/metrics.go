package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type runMetrics struct {
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func newRunMetrics() (*runMetrics, error) {
	meter := otel.Meter("podengine/runtime")

	started, err := meter.Int64Counter("podengine.runs.started",
		metric.WithDescription("Pipeline runs accepted"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("podengine.runs.completed",
		metric.WithDescription("Pipeline runs that produced a master recording"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("podengine.runs.failed",
		metric.WithDescription("Pipeline runs that ended in failure"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("podengine.run.duration",
		metric.WithDescription("Wall-clock seconds per finished run"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &runMetrics{started: started, completed: completed, failed: failed, duration: duration}, nil
}

func (m *runMetrics) observe(ctx context.Context, start time.Time, resumed bool, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("resumed", resumed))
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
	} else {
		m.completed.Add(ctx, 1, attrs)
	}
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
