package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/learnloop/internal/embeddings"

// Metrics records how long each provider takes to embed a question and
// how often it fails.
type Metrics struct {
	latency  metric.Float64Histogram
	inputLen metric.Int64Histogram
	failures metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error
	if m.latency, err = meter.Float64Histogram("learnloop.embedding.duration_seconds",
		metric.WithDescription("Time to embed one text, by provider and model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5)); err != nil {
		logger.Warn("failed to create embedding latency histogram", zap.Error(err))
	}
	if m.inputLen, err = meter.Int64Histogram("learnloop.embedding.input_chars",
		metric.WithDescription("Length of embedded texts"),
		metric.WithUnit("{char}"),
		metric.WithExplicitBucketBoundaries(32, 64, 128, 256, 512, 1024, 4096)); err != nil {
		logger.Warn("failed to create embedding input histogram", zap.Error(err))
	}
	if m.failures, err = meter.Int64Counter("learnloop.embedding.errors_total",
		metric.WithDescription("Failed embedding calls, by provider and model"),
		metric.WithUnit("{error}")); err != nil {
		logger.Warn("failed to create embedding error counter", zap.Error(err))
	}
	return m
}

// Observe records one call that started at start.
func (m *Metrics) Observe(ctx context.Context, provider, model string, start time.Time, chars int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	if m.latency != nil {
		m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.inputLen != nil && chars > 0 {
		m.inputLen.Record(ctx, int64(chars), attrs)
	}
	if m.failures != nil && err != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}
