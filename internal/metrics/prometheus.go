package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dicomweb-oauth/internal/circuitbreaker"
)

const namespace = "dicomweb_oauth"

// Prometheus exports lifecycle events as Prometheus metrics on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	acquisitions       *prometheus.CounterVec
	acquisitionSeconds *prometheus.HistogramVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	circuitRejections  *prometheus.CounterVec
	retryAttempts      *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
}

// NewPrometheus registers all collectors on a fresh registry
func NewPrometheus() (*Prometheus, error) {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_acquisitions_total",
			Help:      "Token acquisitions by server and outcome.",
		}, []string{"server", "status"}),
		acquisitionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_acquisition_duration_seconds",
			Help:      "Duration of token acquisitions including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"server"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Token requests served from cache.",
		}, []string{"server"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Token requests that required an acquisition.",
		}, []string{"server"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"server"}),
		circuitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Acquisitions rejected by an open circuit breaker.",
		}, []string{"server"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retries of token endpoint calls.",
		}, []string{"server"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Acquisitions rejected by the rate limiter.",
		}, []string{"server"}),
	}

	collectors := []prometheus.Collector{
		p.acquisitions, p.acquisitionSeconds, p.cacheHits, p.cacheMisses,
		p.circuitState, p.circuitRejections, p.retryAttempts, p.rateLimited,
	}
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Registry exposes the underlying registry for tests and custom exposition
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) ObserveAcquisition(server, status string, duration time.Duration) {
	p.acquisitions.WithLabelValues(server, status).Inc()
	p.acquisitionSeconds.WithLabelValues(server).Observe(duration.Seconds())
}

func (p *Prometheus) CacheHit(server string) {
	p.cacheHits.WithLabelValues(server).Inc()
}

func (p *Prometheus) CacheMiss(server string) {
	p.cacheMisses.WithLabelValues(server).Inc()
}

func (p *Prometheus) CircuitStateChanged(server string, state circuitbreaker.State) {
	p.circuitState.WithLabelValues(server).Set(float64(state))
}

func (p *Prometheus) CircuitRejected(server string) {
	p.circuitRejections.WithLabelValues(server).Inc()
}

func (p *Prometheus) RetryAttempt(server string) {
	p.retryAttempts.WithLabelValues(server).Inc()
}

func (p *Prometheus) RateLimited(server string) {
	p.rateLimited.WithLabelValues(server).Inc()
}
