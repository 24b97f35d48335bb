package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway collectors on a private prometheus registry,
// so several instances can coexist in tests.
type Registry struct {
	reg *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	resolutions *prometheus.CounterVec
	reloads     *prometheus.CounterVec
	proxies     prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehub_requests_total",
			Help: "Total number of proxied requests by proxy, endpoint, method and status",
		}, []string{"proxy", "endpoint", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitehub_upstream_latency_seconds",
			Help:    "Time spent serving a resolved request, downstream call included",
			Buckets: prometheus.DefBuckets,
		}, []string{"proxy", "endpoint"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehub_resolutions_total",
			Help: "Routing decisions by proxy and outcome (resolved, unresolved, not_found)",
		}, []string{"proxy", "outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitehub_config_reloads_total",
			Help: "Configuration reload attempts by result",
		}, []string{"result"}),
		proxies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitehub_proxies",
			Help: "Number of proxies in the routing table being served",
		}),
	}
	r.reg.MustRegister(
		r.requests,
		r.latency,
		r.resolutions,
		r.reloads,
		r.proxies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) IncRequest(proxy, endpoint, method, status string) {
	r.requests.WithLabelValues(proxy, endpoint, method, status).Inc()
}

func (r *Registry) ObserveLatency(proxy, endpoint string, d time.Duration) {
	r.latency.WithLabelValues(proxy, endpoint).Observe(d.Seconds())
}

func (r *Registry) IncResolution(proxy, outcome string) {
	r.resolutions.WithLabelValues(proxy, outcome).Inc()
}

func (r *Registry) IncReload(result string) {
	r.reloads.WithLabelValues(result).Inc()
}

func (r *Registry) SetProxies(n int) {
	r.proxies.Set(float64(n))
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
