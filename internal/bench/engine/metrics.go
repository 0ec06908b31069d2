package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "eventbench_"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type Metrics struct {
	processed        *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	startDelay       *prometheus.HistogramVec
	claims           *prometheus.CounterVec
	callerRuns       prometheus.Counter
	controllerErrors prometheus.Counter
}

// NewMetrics registers the engine metrics with registerer; nil means the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &Metrics{
		processed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "events_processed_total",
				Help: "Number of events processed by this driver",
			},
			[]string{"event", "outcome"},
		),
		processDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricPrefix + "event_processing_seconds",
				Help:    "Time spent processing events",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"event"},
		),
		startDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricPrefix + "event_start_delay_seconds",
				Help:    "Delay between the scheduled time of an event and the start of its processing",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"event"},
		),
		claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "event_claims_total",
				Help: "Number of claim attempts by result: own, stale or empty",
			},
			[]string{"result"},
		),
		callerRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "caller_runs_total",
			Help: "Number of events run on the controller goroutine because all workers were busy",
		}),
		controllerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "controller_restarts_total",
			Help: "Number of times the event controller loop failed and was restarted",
		}),
	}
}

func (m *Metrics) recordProcessed(eventName string, success bool, duration float64, delay float64) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if !success {
		outcome = outcomeFailure
	}
	m.processed.WithLabelValues(eventName, outcome).Inc()
	m.processDuration.WithLabelValues(eventName).Observe(duration)
	if delay >= 0 {
		m.startDelay.WithLabelValues(eventName).Observe(delay)
	}
}

func (m *Metrics) recordClaim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) recordCallerRuns() {
	if m == nil {
		return
	}
	m.callerRuns.Inc()
}

func (m *Metrics) recordControllerError() {
	if m == nil {
		return
	}
	m.controllerErrors.Inc()
}
