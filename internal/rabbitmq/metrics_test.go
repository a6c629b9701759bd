package rabbitmq

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("nil metrics record nothing", func(t *testing.T) {
		var m *Metrics

		assert.NotPanics(t, func() {
			m.observeConnect(nil)
			m.observePublish("celery", true, nil)
			m.observePoll(PollReady, time.Now())
		})
	})

	t.Run("registers every collector", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewMetrics(reg)

		m.observeConnect(errBoom)
		m.observePublish("celery", false, nil)
		m.observePoll(PollReady, time.Now())

		families, err := reg.Gather()
		require.NoError(t, err)

		names := make([]string, 0, len(families))
		for _, family := range families {
			names = append(names, family.GetName())
		}
		assert.ElementsMatch(t, []string{
			"celery_amqp_connects_total",
			"celery_amqp_publishes_total",
			"celery_amqp_result_polls_total",
			"celery_amqp_result_poll_duration_seconds",
		}, names)
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		NewMetrics(reg)

		assert.Panics(t, func() { NewMetrics(reg) })
	})
}
