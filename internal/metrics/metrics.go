// Package metrics exports sampler progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allenlavoie/topic-pov/internal/sampler"
)

const namespace = "topicpov"

// Metrics records sweeps and likelihoods. It implements sampler.Observer.
type Metrics struct {
	reg *prometheus.Registry

	sweeps        *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	visited       *prometheus.CounterVec
	queueLength   prometheus.Gauge
	logLikelihood prometheus.Gauge
	transitionLP  prometheus.Gauge
	iterations    prometheus.Gauge
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps by mode",
		}, []string{"mode"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweep",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Label changes committed by mode",
		}, []string{"mode"}),
		visited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_visited_total",
			Help:      "Revisions visited by mode",
		}, []string{"mode"}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Update queue length at the end of the last sweep",
		}),
		logLikelihood: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_likelihood",
			Help:      "Most recently computed marginal log-likelihood",
		}),
		transitionLP: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transition_log_probability",
			Help:      "Output of the most recent transition sweep",
		}),
		iterations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Persisted iteration counter of the model",
		}),
	}
}

// ObserveSweep implements sampler.Observer.
func (m *Metrics) ObserveSweep(s sampler.SweepStats) {
	mode := s.Mode.String()
	m.sweeps.WithLabelValues(mode).Inc()
	m.sweepDuration.WithLabelValues(mode).Observe(s.Duration.Seconds())
	m.transitions.WithLabelValues(mode).Add(float64(s.Transitions))
	m.visited.WithLabelValues(mode).Add(float64(s.Visited))
	m.queueLength.Set(float64(s.QueueLength))
	if s.Mode == sampler.ModeTransition {
		m.transitionLP.Set(s.Output)
	}
}

// SetLogLikelihood records a likelihood evaluation.
func (m *Metrics) SetLogLikelihood(ll float64) { m.logLikelihood.Set(ll) }

// SetIterations records the model's iteration counter.
func (m *Metrics) SetIterations(n int64) { m.iterations.Set(float64(n)) }

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
