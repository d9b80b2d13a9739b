package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/learnloop/internal/http"

// unmatchedRoute labels requests that hit no registered route, so probes
// for random paths do not create new series.
const unmatchedRoute = "/"

// HTTPMetrics records API traffic. A nil *HTTPMetrics records nothing.
type HTTPMetrics struct {
	requests     metric.Int64Counter
	latency      metric.Float64Histogram
	responseSize metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP instruments on meter, or on the global meter
// provider when meter is nil. Instruments that fail to register are
// skipped with a warning.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	warn := func(what string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", what), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("learnloop.http.requests_total",
		metric.WithDescription("API requests by method, route and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.latency, err = meter.Float64Histogram("learnloop.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5))
	warn("request_duration_seconds", err)

	m.responseSize, err = meter.Int64Histogram("learnloop.http.response_size_bytes",
		metric.WithDescription("API response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144))
	warn("response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter("learnloop.http.active_requests",
		metric.WithDescription("API requests currently being served"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return m
}

// MetricsMiddleware returns an echo middleware recording every request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			ctx := c.Request().Context()
			m.addInFlight(ctx, 1)
			defer m.addInFlight(ctx, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the error response now so the status is final.
				c.Error(err)
				err = nil
			}
			m.observe(ctx, c, time.Since(start))
			return err
		}
	}
}

func (m *HTTPMetrics) addInFlight(ctx context.Context, n int64) {
	if m.inFlight != nil {
		m.inFlight.Add(ctx, n)
	}
}

func (m *HTTPMetrics) observe(ctx context.Context, c echo.Context, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", c.Request().Method),
		attribute.String("endpoint", normalizePath(c.Path())),
		attribute.Int("status", c.Response().Status),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if m.responseSize != nil {
		m.responseSize.Record(ctx, c.Response().Size, attrs)
	}
}

// normalizePath returns the registered route template, or unmatchedRoute.
func normalizePath(route string) string {
	if route == "" {
		return unmatchedRoute
	}
	return route
}
