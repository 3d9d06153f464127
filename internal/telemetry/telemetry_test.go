package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
)

func TestInitTelemetryIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := config.TelemetryConfig{ServiceName: "nsn-test", Version: "test", Tracing: true}
	tp1, err := InitTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	tp2, err := InitTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	require.Same(t, tp1, tp2)

	_, span := Tracer().Start(context.Background(), "check")
	span.End()
}

func TestObserveCounters(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(sourceFetchTotal.WithLabelValues("dibbs", "timeout"))
	ObserveSourceFetch("dibbs", "timeout", 2*time.Second)
	require.InDelta(t, before+1, testutil.ToFloat64(sourceFetchTotal.WithLabelValues("dibbs", "timeout")), 0.001)

	before = testutil.ToFloat64(persistenceFailuresTotal.WithLabelValues("save"))
	ObservePersistenceFailure("save")
	require.InDelta(t, before+1, testutil.ToFloat64(persistenceFailuresTotal.WithLabelValues("save")), 0.001)
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/nsn/{nsn}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nsn/123", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418")), 0.001)
}
