package rabbitmq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll outcome labels
const (
	PollReady       = "ready"
	PollNoMessage   = "no_message"
	PollNotBound    = "not_bound"
	PollContentType = "content_type_error"
	PollError       = "error"
)

// Metrics collects connector counters. A nil *Metrics records nothing.
type Metrics struct {
	connects    *prometheus.CounterVec
	publishes   *prometheus.CounterVec
	polls       *prometheus.CounterVec
	pollLatency prometheus.Histogram
}

// NewMetrics creates the connector metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celery_amqp",
			Name:      "connects_total",
			Help:      "Broker handshakes attempted, by outcome.",
		}, []string{"outcome"}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celery_amqp",
			Name:      "publishes_total",
			Help:      "Task publishes, by exchange and outcome.",
		}, []string{"exchange", "outcome"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celery_amqp",
			Name:      "result_polls_total",
			Help:      "Result queue polls, by outcome.",
		}, []string{"outcome"}),
		pollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "celery_amqp",
			Name:      "result_poll_duration_seconds",
			Help:      "Time spent in a single result poll.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeConnect(err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observePublish(exchange string, acked bool, err error) {
	if m == nil {
		return
	}
	result := outcome(err)
	if err == nil && !acked {
		result = "nacked"
	}
	m.publishes.WithLabelValues(exchange, result).Inc()
}

func (m *Metrics) observePoll(result string, start time.Time) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollLatency.Observe(time.Since(start).Seconds())
}
