package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth_client"

// Metrics holds the session subsystem's collectors on a private registry so tests can build
// as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Refreshes       prometheus.Counter
	RefreshFailures prometheus.Counter
	Replays         prometheus.Counter
	ForcedLogouts   prometheus.Counter
	Logins          *prometheus.CounterVec // by outcome
	GatewayRequests *prometheus.CounterVec // by route and decision
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes started by the request transport.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_failures_total",
			Help:      "Refreshes that ended the session.",
		}),
		Replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_replays_total",
			Help:      "Requests re-issued after a 401.",
		}),
		ForcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logouts_total",
			Help:      "Sessions torn down because the refresh failed.",
		}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Protected route evaluations by route and decision.",
		}, []string{"route", "decision"}),
	}
	m.Registry.MustRegister(
		m.Refreshes,
		m.RefreshFailures,
		m.Replays,
		m.ForcedLogouts,
		m.Logins,
		m.GatewayRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
