package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedwatch"

// Collector exposes Prometheus metrics for the poller, the account pool and
// inbound HTTP requests. It implements the observer interfaces of the
// accounts, ingestion and scheduler packages. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	rounds          prometheus.Counter
	roundDuration   prometheus.Histogram
	entitiesFailed  prometheus.Counter
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	fetchAttempts   prometheus.Histogram
	deliveries      *prometheus.CounterVec
	checkpointSaves *prometheus.CounterVec
	probes          *prometheus.CounterVec
	accountFailures *prometheus.CounterVec
	accountHealthy  *prometheus.GaugeVec
	healthyAccounts prometheus.Gauge
}

// NewCollector constructs a collector on a private registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),

		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "rounds_total",
			Help:      "Completed polling rounds.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "round_duration_seconds",
			Help:      "Wall time of a polling round.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		entitiesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "entity_failures_total",
			Help:      "Entities whose fetch failed within a round.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Entity fetches by final outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time spent fetching one entity, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts",
			Help:      "Attempts consumed per entity fetch.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by result.",
		}, []string{"result"}),
		checkpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "saves_total",
			Help:      "Checkpoint writes by result.",
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prober",
			Name:      "probes_total",
			Help:      "Proxy health probes by result.",
		}, []string{"result"}),
		accountFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "failures_total",
			Help:      "Failures recorded against each account.",
		}, []string{"account"}),
		accountHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "healthy",
			Help:      "1 when the account is healthy, 0 otherwise.",
		}, []string{"account"}),
		healthyAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "healthy_count",
			Help:      "Number of healthy accounts.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.rounds, c.roundDuration, c.entitiesFailed,
		c.fetches, c.fetchDuration, c.fetchAttempts,
		c.deliveries, c.checkpointSaves, c.probes,
		c.accountFailures, c.accountHealthy, c.healthyAccounts,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RoundCompleted records one finished polling round.
func (c *Collector) RoundCompleted(d time.Duration, entities, failed int) {
	if c == nil {
		return
	}
	c.rounds.Inc()
	c.roundDuration.Observe(d.Seconds())
	c.entitiesFailed.Add(float64(failed))
}

// DeliveryAttempted records one webhook delivery.
func (c *Collector) DeliveryAttempted(ok bool) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(result(ok)).Inc()
}

// CheckpointSaved records one checkpoint write.
func (c *Collector) CheckpointSaved(ok bool) {
	if c == nil {
		return
	}
	c.checkpointSaves.WithLabelValues(result(ok)).Inc()
}

// ProbeCompleted records one proxy probe.
func (c *Collector) ProbeCompleted(ok bool) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(result(ok)).Inc()
}

// AccountsHealthy sets the healthy account gauge.
func (c *Collector) AccountsHealthy(n int) {
	if c == nil {
		return
	}
	c.healthyAccounts.Set(float64(n))
}

// ObserveFetch records one entity fetch.
func (c *Collector) ObserveFetch(outcome string, attempts int, d time.Duration) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
	c.fetchAttempts.Observe(float64(attempts))
	c.fetchDuration.Observe(d.Seconds())
}

// AccountFailed counts a failure against an account.
func (c *Collector) AccountFailed(accountID, reason string) {
	if c == nil {
		return
	}
	c.accountFailures.WithLabelValues(accountID).Inc()
}

// AccountHealthChanged tracks per-account health transitions.
func (c *Collector) AccountHealthChanged(accountID string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.accountHealthy.WithLabelValues(accountID).Set(v)
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
