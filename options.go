package celery

import (
	"log/slog"
	"time"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/internal/reliability"
)

// PollPolicy paces AsyncResult.Get
type PollPolicy = reliability.PollPolicy

// ExponentialPolling polls with a delay growing from initial to max by multiplier.
// maxAttempts <= 0 polls until the context is done.
func ExponentialPolling(initial, max time.Duration, multiplier float64, maxAttempts int) PollPolicy {
	return reliability.NewExponentialBackoff(initial, max, multiplier, maxAttempts)
}

// FixedPolling polls every delay
func FixedPolling(delay time.Duration, maxAttempts int) PollPolicy {
	return reliability.NewFixedDelay(delay, maxAttempts)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	connector       connector.Connector
	backend         connector.ResultBackend
	resultExpiry    time.Duration
	removeAfterRead bool
	pollPolicy      PollPolicy
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithClientLogger sets the logger for the client and the default connector
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithConnector replaces the default RabbitMQ connector
func WithConnector(c connector.Connector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connector = c
	}
}

// WithResultExpiry sets the x-expires of result queues. Zero declares them without
// expiry.
func WithResultExpiry(expiry time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.resultExpiry = expiry
	}
}

// WithRemoveAfterRead deletes a result queue once the final state of its task was
// read. Intermediate states leave the queue in place.
func WithRemoveAfterRead(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.removeAfterRead = enabled
	}
}

// WithPollPolicy sets how AsyncResult.Get waits for a result
func WithPollPolicy(policy PollPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.pollPolicy = policy
	}
}

// WithResultBackend reads results from backend instead of broker result queues.
// Tasks are still published through the connector.
func WithResultBackend(backend connector.ResultBackend) ClientOption {
	return func(cfg *clientConfig) {
		cfg.backend = backend
	}
}
