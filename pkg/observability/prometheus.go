package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusConfig configures [NewPrometheus].
type PrometheusConfig struct {
	// Namespace is the metrics namespace (default: "depscan").
	Namespace string

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// PrometheusOption configures a Prometheus hook set.
type PrometheusOption func(*PrometheusConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) PrometheusOption {
	return func(c *PrometheusConfig) { c.Namespace = namespace }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) PrometheusOption {
	return func(c *PrometheusConfig) { c.Registry = registry }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) PrometheusOption {
	return func(c *PrometheusConfig) { c.Buckets = buckets }
}

// Prometheus implements every hook interface on top of client_golang metrics.
//
// Metrics collected:
//   - depscan_cache_events_total{type,event}
//   - depscan_cache_write_bytes_total{type}
//   - depscan_http_requests_total{host,code}
//   - depscan_http_request_duration_seconds{host}
//   - depscan_http_errors_total{host}
//   - depscan_submissions_total
//   - depscan_lookups_total{status,cached}
//   - depscan_lookup_duration_seconds{status}
//   - depscan_submission_duration_seconds
type Prometheus struct {
	cacheEvents     *prometheus.CounterVec
	cacheBytes      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
	submissions     prometheus.Counter
	lookups         *prometheus.CounterVec
	lookupDuration  *prometheus.HistogramVec
	settledDuration prometheus.Histogram
}

// NewPrometheus registers the depscan metrics and returns hooks that update them.
func NewPrometheus(opts ...PrometheusOption) *Prometheus {
	cfg := PrometheusConfig{
		Namespace: "depscan",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Prometheus{
		cacheEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_events_total",
			Help:      "Cache lookups by outcome (hit, miss, set)",
		}, []string{"type", "event"}),

		cacheBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_write_bytes_total",
			Help:      "Bytes written to the cache store",
		}, []string{"type"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Registry HTTP responses by status code",
		}, []string{"host", "code"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "Registry HTTP request duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"host"}),

		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_errors_total",
			Help:      "Registry requests that failed before a response",
		}, []string{"host"}),

		submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "submissions_total",
			Help:      "Submissions that produced at least one request",
		}),

		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "lookups_total",
			Help:      "Package lookups by final status",
		}, []string{"status", "cached"}),

		lookupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "lookup_duration_seconds",
			Help:      "Per-package lookup duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"status"}),

		settledDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "submission_duration_seconds",
			Help:      "Time from submission until every lookup settled",
			Buckets:   cfg.Buckets,
		}),
	}
}

func (p *Prometheus) OnCacheHit(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "miss").Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, keyType string, size int) {
	p.cacheEvents.WithLabelValues(keyType, "set").Inc()
	p.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (p *Prometheus) OnRequest(context.Context, string, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, _, host, _ string, statusCode int, d time.Duration) {
	p.httpRequests.WithLabelValues(host, statusLabel(statusCode)).Inc()
	p.httpDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (p *Prometheus) OnError(_ context.Context, _, host, _ string, _ error) {
	p.httpErrors.WithLabelValues(host).Inc()
}

func (p *Prometheus) OnSubmit(context.Context, uint64, int) {
	p.submissions.Inc()
}

func (p *Prometheus) OnLookupComplete(_ context.Context, _, status string, cached bool, d time.Duration) {
	c := "false"
	if cached {
		c = "true"
	}
	p.lookups.WithLabelValues(status, c).Inc()
	p.lookupDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (p *Prometheus) OnSettled(_ context.Context, _ uint64, d time.Duration) {
	p.settledDuration.Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var (
	_ CacheHooks  = (*Prometheus)(nil)
	_ HTTPHooks   = (*Prometheus)(nil)
	_ LookupHooks = (*Prometheus)(nil)
)
