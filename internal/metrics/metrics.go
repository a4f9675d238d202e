package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwygoda/songbridge/internal/domain"
)

// Metrics holds the bridge collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Submissions *prometheus.CounterVec
	Callbacks   *prometheus.CounterVec
	Polls       *prometheus.CounterVec
	PollWait    *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songbridge_submissions_total",
				Help: "Generation submissions by outcome.",
			},
			[]string{"outcome"}, // accepted | invalid | rejected | unreachable | error
		),
		Callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songbridge_callbacks_total",
				Help: "Provider callbacks by outcome.",
			},
			[]string{"outcome"},
		),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songbridge_polls_total",
				Help: "Bounded polls by outcome.",
			},
			[]string{"outcome"},
		),
		PollWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "songbridge_poll_wait_seconds",
				Help:    "Time a poll spent waiting before it resolved.",
				Buckets: []float64{.01, .1, .5, 1, 5, 20, 60, 120, 300},
			},
			[]string{"outcome"},
		),
	}
	m.Registry.MustRegister(m.Submissions, m.Callbacks, m.Polls, m.PollWait)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Submitted implements domain.Recorder.
func (m *Metrics) Submitted(err error) {
	m.Submissions.WithLabelValues(submitOutcome(err)).Inc()
}

// Ingested implements domain.Recorder.
func (m *Metrics) Ingested(outcome domain.IngestOutcome) {
	m.Callbacks.WithLabelValues(string(outcome)).Inc()
}

// Resolved implements domain.Recorder.
func (m *Metrics) Resolved(outcome string, waited time.Duration) {
	m.Polls.WithLabelValues(outcome).Inc()
	m.PollWait.WithLabelValues(outcome).Observe(waited.Seconds())
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrInvalidPrompt):
		return "invalid"
	case errors.Is(err, domain.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, domain.ErrProviderUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}

var _ domain.Recorder = (*Metrics)(nil)
