package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's Prometheus collectors. One instance is owned
// by the server and injected into the handlers and resilience layer.
type Registry struct {
	registry *prometheus.Registry

	Requests            *prometheus.CounterVec
	Retries             prometheus.Counter
	FallbackActivations prometheus.Counter
	FallbackActive      prometheus.Gauge
}

func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_gateway",
		Name:      "requests_total",
		Help:      "Inbound /v1/messages requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	r.Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "claude_gateway",
		Name:      "backend_retries_total",
		Help:      "Backend call retries.",
	})

	r.FallbackActivations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "claude_gateway",
		Name:      "fallback_activations_total",
		Help:      "Times a request was answered from fallback mode.",
	})

	r.FallbackActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "claude_gateway",
		Name:      "fallback_active",
		Help:      "1 while the fallback window is armed.",
	})

	r.registry.MustRegister(r.Requests, r.Retries, r.FallbackActivations, r.FallbackActive)

	return r
}

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
