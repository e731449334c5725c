package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobCollectors(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Jobs().Track("ledger:integrity").End(nil))
	metrics.Jobs().AddFindings("ledger:integrity", 2)

	body := scrape(t, metrics)
	require.Contains(t, body, `agriledger_jobs_total{job="ledger:integrity",status="success"} 1`)
	require.Contains(t, body, `agriledger_job_findings_total{job="ledger:integrity"} 2`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `agriledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `agriledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestMiddlewareObservesEveryRequest(t *testing.T) {
	metrics := NewMetrics()
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/reports/{kind}", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/reports/ageing", "/reports/balances", "/reports/cashbook"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	observer, err := metrics.requestDuration.GetMetricWithLabelValues("/reports/{kind}")
	require.NoError(t, err)
	var sample dto.Metric
	require.NoError(t, observer.(prometheus.Metric).Write(&sample))
	require.Equal(t, uint64(3), sample.GetHistogram().GetSampleCount())
}

func TestSettlementCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.SettlementTransition("post", "ok")
	metrics.SettlementTransition("post", "ok")
	metrics.SettlementTransition("reverse", "busy")
	metrics.LockBusy("settlement")

	body := scrape(t, metrics)
	require.Contains(t, body, `agriledger_settlement_transitions_total{action="post",outcome="ok"} 2`)
	require.Contains(t, body, `agriledger_settlement_transitions_total{action="reverse",outcome="busy"} 1`)
	require.Contains(t, body, `agriledger_lock_busy_total{resource="settlement"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.SettlementTransition("post", "ok")
	metrics.LockBusy("settlement")
	metrics.Inconsistency("SETTLEMENT")
	require.Nil(t, metrics.Jobs())

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAlertsCountInconsistencyByOrigin(t *testing.T) {
	metrics := NewMetrics()
	alerts := NewAlerts(nil, metrics)

	alerts.Inconsistent(context.Background(), "SETTLEMENT/5f0c9d8e-1b1a-4a52-9a0e-0d1c2b3a4f50", errors.New("net 1"))
	alerts.Inconsistent(context.Background(), "SETTLEMENT/0d1c2b3a-1b1a-4a52-9a0e-5f0c9d8e4f50", errors.New("net 2"))
	alerts.Inconsistent(context.Background(), "", errors.New("unknown"))

	body := scrape(t, metrics)
	require.Contains(t, body, `agriledger_ledger_inconsistencies_total{origin="SETTLEMENT"} 2`)
	require.Contains(t, body, `agriledger_ledger_inconsistencies_total{origin="unknown"} 1`)
	require.False(t, strings.Contains(body, "5f0c9d8e"), "source ids must not become labels")
}
