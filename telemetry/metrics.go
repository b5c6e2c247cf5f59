package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"report-embed/embedcfg"
	"report-embed/lifecycle"
)

const namespace = "report_embed"

// Metrics records lifecycle activity. It implements lifecycle.Observer.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	fetchTime   prometheus.Histogram
	sessions    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Embed lifecycle macro-state transitions.",
		}, []string{"from", "to"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sdk_events_total",
			Help:      "Events received from the embedding SDK.",
		}, []string{"event"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_fetches_total",
			Help:      "Embed-config fetches by outcome. status is set for transport errors only.",
		}, []string{"outcome", "status"}),
		fetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "config_fetch_seconds",
			Help:      "Latency of embed-config fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Embed sessions currently held in memory.",
		}),
	}
	m.registry.MustRegister(m.transitions, m.events, m.fetches, m.fetchTime, m.sessions)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) EventReceived(kind lifecycle.EventKind) {
	m.events.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) FetchFinished(elapsed time.Duration, err error) {
	m.fetchTime.Observe(elapsed.Seconds())

	var terr *embedcfg.TransportError
	var verr *embedcfg.ValidationError
	switch {
	case err == nil:
		m.fetches.WithLabelValues("success", "").Inc()
	case errors.As(err, &terr):
		m.fetches.WithLabelValues("transport_error", strconv.Itoa(terr.StatusCode)).Inc()
	case errors.As(err, &verr):
		m.fetches.WithLabelValues("invalid_payload", "").Inc()
	default:
		m.fetches.WithLabelValues("error", "0").Inc()
	}
}

// SessionOpened and SessionClosed track the in-memory session count.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

func (m *Metrics) SessionClosed() { m.sessions.Dec() }

var _ lifecycle.Observer = (*Metrics)(nil)
