package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	"github.com/glimte/celery-amqp-go/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrNotConnected       = errors.New("rabbitmq: connection not initialized")
	ErrConnectionTimeout  = errors.New("rabbitmq: connection timeout")
	ErrConnectionMismatch = errors.New("rabbitmq: connection does not belong to this connector")

	// Channel errors
	ErrChannelClosed = errors.New("rabbitmq: channel is closed")

	// Publisher errors
	ErrConfirmTimeout = errors.New("rabbitmq: timeout waiting for publish confirmation")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (redacted)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) ErrorKind() contracts.ErrorKind {
	return contracts.KindTransport
}

// PublishError represents a publish operation error
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) ErrorKind() contracts.ErrorKind {
	return contracts.KindTransport
}

// TopologyError represents a topology-related error
type TopologyError struct {
	Component string    // exchange, queue or binding
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

func (e *TopologyError) ErrorKind() contracts.ErrorKind {
	return contracts.KindTransport
}

// IsNotFound reports whether the broker answered with a 404 NOT_FOUND channel error
func IsNotFound(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.NotFound
	}
	return false
}

// IsChannelException reports whether the broker closed the channel with a soft error
// (access refused, not found, resource locked, precondition failed and the like). The
// connection stays usable after such an error.
func IsChannelException(err error) bool {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) || !amqpErr.Server {
		return false
	}
	switch amqpErr.Code {
	case amqp.ContentTooLarge, amqp.NoRoute, amqp.NoConsumers,
		amqp.AccessRefused, amqp.NotFound, amqp.ResourceLocked, amqp.PreconditionFailed:
		return true
	}
	return false
}

// closesChannel reports whether err is a broker exception that closed the channel
func closesChannel(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Server
}
