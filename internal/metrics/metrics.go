// Package metrics exports lease and usage outcomes to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm_keypool/internal/lease"
	"llm_keypool/internal/models"
)

const namespace = "keypool"

// Collector holds the key pool metrics on its own registry, no global state.
// It implements lease.Observer.
type Collector struct {
	Registry *prometheus.Registry

	LeasesGranted   *prometheus.CounterVec
	LeasesExhausted *prometheus.CounterVec
	LeaseFailures   *prometheus.CounterVec
	SecretFailures  *prometheus.CounterVec
	LeasesReleased  prometheus.Counter
	CooldownsSet    prometheus.Counter
	TokensRecorded  prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ lease.Observer = (*Collector)(nil)

// NewCollector creates a Collector with every metric registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		LeasesGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "granted_total",
			Help:      "Leases granted, by requested provider and search tier.",
		}, []string{"provider", "tier"}),

		LeasesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "exhausted_total",
			Help:      "Lease requests that found no eligible credential.",
		}, []string{"provider"}),

		LeaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "failures_total",
			Help:      "Lease requests that failed with an error.",
		}, []string{"provider", "reason"}),

		SecretFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "secret_failures_total",
			Help:      "Candidates dropped because their secret could not be resolved.",
		}, []string{"provider"}),

		LeasesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "released_total",
			Help:      "Inflight decrements.",
		}),

		CooldownsSet: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "cooldowns_total",
			Help:      "Cooldowns set on credentials.",
		}),

		TokensRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "tokens_recorded_total",
			Help:      "Tokens reported to the usage ledger.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.LeasesGranted,
		c.LeasesExhausted,
		c.LeaseFailures,
		c.SecretFailures,
		c.LeasesReleased,
		c.CooldownsSet,
		c.TokensRecorded,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

func (c *Collector) LeaseGranted(provider models.Provider, tier lease.Tier) {
	c.LeasesGranted.WithLabelValues(string(provider), string(tier)).Inc()
}

func (c *Collector) LeaseExhausted(provider models.Provider) {
	c.LeasesExhausted.WithLabelValues(string(provider)).Inc()
}

func (c *Collector) LeaseFailed(provider models.Provider, reason string) {
	c.LeaseFailures.WithLabelValues(string(provider), reason).Inc()
}

func (c *Collector) SecretFailed(provider models.Provider) {
	c.SecretFailures.WithLabelValues(string(provider)).Inc()
}

func (c *Collector) LeaseReleased() {
	c.LeasesReleased.Inc()
}

func (c *Collector) CooldownSet() {
	c.CooldownsSet.Inc()
}

// UsageRecorded counts tokens reported through the API
func (c *Collector) UsageRecorded(tokens int64) {
	if tokens > 0 {
		c.TokensRecorded.Add(float64(tokens))
	}
}
