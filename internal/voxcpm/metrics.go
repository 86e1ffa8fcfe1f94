package voxcpm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-voxcpm/voxcpm"

type metrics struct {
	segments  metric.Int64Counter
	failures  metric.Int64Counter
	skipped   metric.Int64Counter
	refreshes metric.Int64Counter
	latency   metric.Float64Histogram
}

func newMetrics(p *Provider) (*metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error
	if m.segments, err = meter.Int64Counter("voxcpm.synthesis.segments", metric.WithDescription("Segments synthesized")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("voxcpm.synthesis.failures", metric.WithDescription("Failed synthesis calls")); err != nil {
		return nil, err
	}
	if m.skipped, err = meter.Int64Counter("voxcpm.synthesis.skipped", metric.WithDescription("Requests with nothing to speak")); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("voxcpm.catalog.refreshes", metric.WithDescription("Voice catalog refresh attempts")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("voxcpm.synthesis.duration", metric.WithDescription("Per-segment synthesis latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}

	voices, err := meter.Int64ObservableGauge("voxcpm.catalog.voices", metric.WithDescription("Voices in the current catalog"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(voices, int64(len(p.catalogSnapshot())))
		return nil
	}, voices)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordSegment(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failures.Add(ctx, 1)
		return
	}
	m.segments.Add(ctx, 1)
	m.latency.Record(ctx, time.Since(start).Seconds())
}

func (m *metrics) recordSkip(ctx context.Context) {
	if m == nil {
		return
	}
	m.skipped.Add(ctx, 1)
}

func (m *metrics) recordRefresh(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
