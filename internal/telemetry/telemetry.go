package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type state int32

const (
	stateRunning state = iota
	stateDegraded
	stateStopped
)

// Telemetry owns the process-wide trace and meter providers. Pipeline
// components take a *Telemetry and ask it for tracers and meters; a nil or
// disabled instance hands out the global no-op providers.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	state atomic.Int32
}

// New builds the providers described by cfg and installs them globally.
// An exporter that cannot be created leaves its signal on the no-op
// provider and marks the instance degraded; it is not an error.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{config: cfg, logger: logger}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	if spans, err := o.spanExporter(ctx, cfg); err != nil {
		t.degrade("trace", err)
	} else {
		t.tracerProvider = newTracerProvider(cfg, res, spans)
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.Metrics.Enabled {
		if metrics, err := o.metricExporter(ctx, cfg); err != nil {
			t.degrade("metric", err)
		} else {
			t.meterProvider = newMeterProvider(cfg, res, metrics)
			otel.SetMeterProvider(t.meterProvider)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a named tracer.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t != nil && t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name, opts...)
	}
	return otel.GetTracerProvider().Tracer(name, opts...)
}

// Meter returns a named meter.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t != nil && t.meterProvider != nil {
		return t.meterProvider.Meter(name, opts...)
	}
	return otel.GetMeterProvider().Meter(name, opts...)
}

// Shutdown flushes pending spans and metrics. When ctx has no deadline the
// configured shutdown timeout bounds the flush.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, wrapShutdown("trace", t.tracerProvider.Shutdown(ctx)))
	}
	if t.meterProvider != nil {
		errs = append(errs, wrapShutdown("meter", t.meterProvider.Shutdown(ctx)))
	}
	t.state.Store(int32(stateStopped))
	return errors.Join(errs...)
}

func wrapShutdown(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s provider shutdown: %w", what, err)
}

// HealthStatus reports provider state.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health reports whether the providers are running and whether any
// exporter failed to start. A nil instance reports degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	switch state(t.state.Load()) {
	case stateRunning:
		return HealthStatus{Healthy: true}
	case stateDegraded:
		return HealthStatus{Healthy: true, Degraded: true}
	default:
		return HealthStatus{}
	}
}

// IsEnabled reports whether telemetry was enabled and not yet shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil || !t.config.Enabled {
		return false
	}
	return state(t.state.Load()) != stateStopped
}

func (t *Telemetry) degrade(signal string, err error) {
	t.state.CompareAndSwap(int32(stateRunning), int32(stateDegraded))
	t.logger.Warn("telemetry exporter unavailable", zap.String("signal", signal), zap.Error(err))
}
