package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/learnloop/internal/pipeline"

// Workflow start outcomes.
const (
	outcomeStarted   = "started"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// Metrics records pipeline workflow starts and step outcomes. A nil
// *Metrics records nothing.
type Metrics struct {
	starts       metric.Int64Counter
	stepDuration metric.Float64Histogram
	stepErrors   metric.Int64Counter
	fallbacks    metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global meter provider
// when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	m.starts, err = meter.Int64Counter(
		"learnloop.pipeline.workflow_starts_total",
		metric.WithDescription("Workflow start attempts by workflow and outcome"),
		metric.WithUnit("{start}"),
	)
	if err != nil {
		logger.Warn("failed to create workflow starts counter", zap.Error(err))
	}

	m.stepDuration, err = meter.Float64Histogram(
		"learnloop.pipeline.step_duration_seconds",
		metric.WithDescription("Duration of pipeline activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create step duration histogram", zap.Error(err))
	}

	m.stepErrors, err = meter.Int64Counter(
		"learnloop.pipeline.step_errors_total",
		metric.WithDescription("Pipeline activity failures by step"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create step errors counter", zap.Error(err))
	}

	m.fallbacks, err = meter.Int64Counter(
		"learnloop.pipeline.evaluation_fallbacks_total",
		metric.WithDescription("Evaluations replaced by the default evaluation"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		logger.Warn("failed to create fallbacks counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordStart(ctx context.Context, workflow, outcome string) {
	if m == nil || m.starts == nil {
		return
	}
	m.starts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordStep(ctx context.Context, step string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("step", step))
	if m.stepDuration != nil {
		m.stepDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil && m.stepErrors != nil {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordFallback(ctx context.Context) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}
