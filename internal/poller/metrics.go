package poller

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "jobwatch.poller"

// Metrics records poll cycle metrics. A nil *Metrics records nothing.
type Metrics struct {
	cycles   metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	live     metric.Int64Gauge
}

// NewMetrics creates the poller instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(Metrics)
	var err error

	if m.cycles, err = meter.Int64Counter(
		"poll_cycles_total",
		metric.WithDescription("Total number of poll cycles run"),
	); err != nil {
		return nil, err
	}

	if m.errors, err = meter.Int64Counter(
		"poll_errors_total",
		metric.WithDescription("Total number of poll cycles that reported an error"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(
		"poll_cycle_duration_seconds",
		metric.WithDescription("Time taken by one poll cycle"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.live, err = meter.Int64Gauge(
		"poll_live_entities",
		metric.WithDescription("Number of monitored entities not yet terminal at the start of a cycle"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordCycle(ctx context.Context, loop string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("loop", loop))
	m.cycles.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordLive(ctx context.Context, loop string, n int) {
	if m == nil {
		return
	}
	m.live.Record(ctx, int64(n), metric.WithAttributes(attribute.String("loop", loop)))
}
