package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// collectHTTP returns data points per instrument name, plus the endpoints
// seen on the request counter.
func collectHTTP(t *testing.T, reader *sdkmetric.ManualReader) (counts map[string]uint64, endpoints map[string]bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts = map[string]uint64{}
	endpoints = map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if dp.Value > 0 {
						counts[m.Name] += uint64(dp.Value)
					}
					if v, ok := dp.Attributes.Value(attribute.Key("endpoint")); ok {
						endpoints[v.AsString()] = true
					}
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					counts[m.Name] += dp.Count
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					counts[m.Name] += dp.Count
				}
			}
		}
	}
	return counts, endpoints
}

func TestHTTPMetrics_RecordsAPIRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	server, err := NewServer(newFakeServices(), zap.NewNop(), m, nil)
	require.NoError(t, err)

	for _, r := range []struct{ method, path, body string }{
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/api/v1/stats", ""},
		{http.MethodPost, "/api/v1/memories/similar", `{"question":"fractions"}`},
	} {
		req := httptest.NewRequest(r.method, r.path, strings.NewReader(r.body))
		req.Header.Set("Content-Type", "application/json")
		server.echo.ServeHTTP(httptest.NewRecorder(), req)
	}

	counts, endpoints := collectHTTP(t, reader)
	assert.Equal(t, uint64(3), counts["learnloop.http.requests_total"])
	assert.Equal(t, uint64(3), counts["learnloop.http.request_duration_seconds"])
	assert.Equal(t, uint64(3), counts["learnloop.http.response_size_bytes"])
	for _, e := range []string{"/health", "/api/v1/stats", "/api/v1/memories/similar"} {
		assert.True(t, endpoints[e], "no request recorded for %s", e)
	}
}

func TestHTTPMetrics_NilIsNoop(t *testing.T) {
	var m *HTTPMetrics
	server, err := NewServer(newFakeServices(), zap.NewNop(), m, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, unmatchedRoute, normalizePath(""))
	for _, route := range []string{"/health", "/api/v1/patterns", "/api/v1/memories/recent"} {
		assert.Equal(t, route, normalizePath(route))
	}
}
