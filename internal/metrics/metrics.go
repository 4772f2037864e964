package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiongate"

// Metrics groups the collectors shared by the proxy, the gateway and the
// session coordinator. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ProxyRequests  *prometheus.CounterVec
	ProxyDuration  *prometheus.HistogramVec
	ProxyFailures  prometheus.Counter
	GatewayOutcome *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	RefreshJoined  prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests so runs do not collide on the global registerer.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Requests forwarded to the backend by method and backend status",
		}, []string{"method", "status"}),

		ProxyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Backend round trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		ProxyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Forwards that ended in a generic 500",
		}),

		GatewayOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "decisions_total",
			Help:      "Gateway decisions by outcome",
		}, []string{"outcome"}),

		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "refreshes_total",
			Help:      "Network refresh calls by result",
		}, []string{"result"}),

		RefreshJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "refresh_joined_total",
			Help:      "Refresh callers that joined an in-flight refresh instead of starting one",
		}),
	}
}

func (m *Metrics) ObserveProxy(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.ProxyDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) IncProxyFailure() {
	if m == nil {
		return
	}
	m.ProxyFailures.Inc()
}

func (m *Metrics) IncGateway(outcome string) {
	if m == nil {
		return
	}
	m.GatewayOutcome.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRefreshJoined() {
	if m == nil {
		return
	}
	m.RefreshJoined.Inc()
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
