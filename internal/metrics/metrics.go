// Package metrics provides Prometheus telemetry for the instance host.
// It wraps a dedicated registry so embedding processes can expose host
// metrics without touching the global default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records host-level metrics. A nil *Collector is valid and
// records nothing, so the host can run without telemetry.
type Collector struct {
	registry *prometheus.Registry

	instancesRunning prometheus.Gauge
	startsTotal      *prometheus.CounterVec
	stopsTotal       prometheus.Counter

	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "apphost"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.instancesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "instances_running",
		Help:      "Number of live application instances.",
	})
	c.startsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "starts_total",
		Help:      "Instance start attempts by outcome.",
	}, []string{"outcome"})
	c.stopsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stops_total",
		Help:      "Instance stops.",
	})
	c.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Command dispatches by application and outcome.",
	}, []string{"application", "outcome"})
	c.dispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Command dispatch latency.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"application"})

	c.registry.MustRegister(
		c.instancesRunning,
		c.startsTotal,
		c.stopsTotal,
		c.dispatchTotal,
		c.dispatchLatency,
	)
	return c
}

// Registry returns the underlying registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordStart counts a start attempt. Outcomes: ok, already_started,
// config_error, start_error, invalid_identity.
func (c *Collector) RecordStart(outcome string) {
	if c == nil {
		return
	}
	c.startsTotal.WithLabelValues(outcome).Inc()
}

// InstanceUp increments the running-instance gauge.
func (c *Collector) InstanceUp() {
	if c == nil {
		return
	}
	c.instancesRunning.Inc()
}

// InstanceDown decrements the running-instance gauge and counts the stop.
func (c *Collector) InstanceDown() {
	if c == nil {
		return
	}
	c.instancesRunning.Dec()
	c.stopsTotal.Inc()
}

// RecordDispatch records one dispatch with its outcome and latency.
func (c *Collector) RecordDispatch(application, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(application, outcome).Inc()
	c.dispatchLatency.WithLabelValues(application).Observe(d.Seconds())
}
