// Package telemetry unifies OpenTelemetry tracing and Prometheus metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
)

// TracerName identifies spans emitted by the pipeline.
const TracerName = "github.com/JakeFAU/nsn-sourcing"

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsn_items_total",
			Help: "Total number of items finished, labeled by status.",
		},
		[]string{"status"},
	)

	sourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsn_source_fetch_total",
			Help: "Source connector fetches, labeled by source and outcome kind.",
		},
		[]string{"source", "outcome"},
	)

	sourceFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsn_source_fetch_duration_seconds",
			Help:    "Histogram of source connector latencies including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"source"},
	)

	enrichCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsn_enrich_calls_total",
			Help: "Contact enricher calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	suppliersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsn_suppliers_total",
			Help: "Scored suppliers, labeled by confidence tier.",
		},
		[]string{"tier"},
	)

	activeItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nsn_active_items",
			Help: "Number of items currently moving through the pipeline.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsn_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"limiter"},
	)

	persistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsn_persistence_failures_total",
			Help: "Failed progress saves and result appends, labeled by operation.",
		},
		[]string{"op"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	initErr   error
)

// InitTelemetry installs the global tracer provider and propagator. Spans are
// sampled when cfg.Tracing is set; exporters are attached with extra options.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.Version),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		sampler := sdktrace.NeverSample()
		if cfg.Tracing {
			sampler = sdktrace.AlwaysSample()
		}
		all := append([]sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		}, opts...)

		tp := sdktrace.NewTracerProvider(all...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
		traceProv = tp
	})
	return traceProv, initErr
}

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveItem records a finished item.
func ObserveItem(status string) {
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveSourceFetch records one connector call for an item.
func ObserveSourceFetch(source, outcome string, duration time.Duration) {
	sourceFetchTotal.WithLabelValues(source, outcome).Inc()
	sourceFetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveEnrich records one enricher call.
func ObserveEnrich(outcome string) {
	enrichCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSupplier records a scored supplier.
func ObserveSupplier(tier string) {
	suppliersTotal.WithLabelValues(tier).Inc()
}

// IncActiveItems increments the in-flight item gauge.
func IncActiveItems() {
	activeItems.Inc()
}

// DecActiveItems decrements the in-flight item gauge.
func DecActiveItems() {
	activeItems.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(limiter string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(limiter).Observe(duration.Seconds())
}

// ObservePersistenceFailure records a failed save or append.
func ObservePersistenceFailure(op string) {
	persistenceFailuresTotal.WithLabelValues(op).Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
