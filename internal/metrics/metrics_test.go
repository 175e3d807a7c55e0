package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.Refreshes.Inc()
	m.Logins.WithLabelValues("success").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "auth_client_token_refreshes_total 1")
	require.Contains(t, rec.Body.String(), `auth_client_logins_total{outcome="success"} 1`)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		_ = metrics.New()
		_ = metrics.New()
	})
}
