package connector

import (
	"context"
	"time"

	"github.com/glimte/celery-amqp-go/contracts"
)

// Connection is a broker session handed out by a Connector. It starts unconnected
// and is initialized by Connector.Connect.
type Connection interface {
	IsConnected() bool
}

// Connector is implemented by broker transports
type Connector interface {
	// GetConnection returns the connector's cached connection, creating it from details
	// on first use. Later calls return the same instance whatever details they pass.
	GetConnection(details contracts.ConnectionDetails) Connection

	// Connect performs the broker handshake and opens the channel. It is a no-op when
	// the connection is already initialized.
	Connect(ctx context.Context, conn Connection) error

	// Publish sends an encoded task body to details.Exchange with details.RoutingKey
	// and reports whether the broker accepted it.
	Publish(ctx context.Context, conn Connection, details contracts.ConnectionDetails, body []byte, props Properties) (bool, error)

	// FetchResult makes one non-blocking attempt to read the result for taskID.
	// expire sets the result queue's idle expiry when non-zero.
	FetchResult(ctx context.Context, conn Connection, taskID string, expire time.Duration, removeAfterRead bool) (Result, error)

	// Disconnect tears the connection down. The next Connect re-establishes it.
	Disconnect(conn Connection) error
}

// ResultRemover is implemented by connectors that can delete a task's result queue
// separately from FetchResult. Callers that read intermediate states (STARTED, RETRY)
// fetch without removal and remove the queue once the final state has been read.
type ResultRemover interface {
	RemoveResult(ctx context.Context, conn Connection, taskID string) error
}

// Properties are the message attributes attached to a published task
type Properties struct {
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Headers         map[string]any
}

// DefaultProperties returns the attributes used for JSON task bodies
func DefaultProperties() Properties {
	return Properties{
		ContentType:     contracts.ContentType,
		ContentEncoding: "utf-8",
		DeliveryMode:    Persistent,
	}
}

// Delivery modes
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)
