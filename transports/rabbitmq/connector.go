package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/glimte/celery-amqp-go/internal/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Seams over amqp091-go, exported so callers can supply their own dialer
type (
	Dialer         = rabbitmq.Dialer
	AMQPConnection = rabbitmq.AMQPConnection
	Channel        = rabbitmq.Channel
)

// ResultsExchange is the exchange result queues are bound to
const ResultsExchange = rabbitmq.ResultsExchange

var (
	_ connector.Connector     = (*Connector)(nil)
	_ connector.ResultRemover = (*Connector)(nil)
)

// Connector implements connector.Connector for RabbitMQ. It owns a single cached
// connection; all operations are serialised so a Connector may be shared between
// goroutines.
type Connector struct {
	cfg *ConnectorConfig

	mu        sync.Mutex
	conn      *rabbitmq.Connection
	publisher *rabbitmq.Publisher
	poller    *rabbitmq.ResultPoller
}

// ConnectorConfig holds configuration for the connector
type ConnectorConfig struct {
	Logger            *slog.Logger
	Metrics           *rabbitmq.Metrics
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
}

// ConnectorOption configures the connector
type ConnectorOption func(*ConnectorConfig)

// WithLogger sets the logger used by every component
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.Logger = logger
	}
}

// WithMetrics registers connector metrics with reg
func WithMetrics(reg prometheus.Registerer) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.Metrics = rabbitmq.NewMetrics(reg)
	}
}

// WithDialer replaces the function used to reach the broker
func WithDialer(dialer Dialer) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, rabbitmq.WithDialer(dialer))
	}
}

// WithDialTimeout bounds the broker handshake
func WithDialTimeout(timeout time.Duration) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, rabbitmq.WithDialTimeout(timeout))
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(interval time.Duration) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, rabbitmq.WithHeartbeat(interval))
	}
}

// WithConnectionName names the connection in the RabbitMQ management UI
func WithConnectionName(name string) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, rabbitmq.WithConnectionName(name))
	}
}

// WithConfirms toggles publisher confirms. With confirms off Publish reports success
// as soon as the message is written.
func WithConfirms(enabled bool) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, rabbitmq.WithConfirms(enabled))
	}
}

// WithConfirmTimeout sets how long Publish waits for the broker's confirmation
func WithConfirmTimeout(timeout time.Duration) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, rabbitmq.WithConfirmTimeout(timeout))
	}
}

// WithDeclareExchange declares the task exchange as a durable topic exchange before
// publishing
func WithDeclareExchange(enabled bool) ConnectorOption {
	return func(cfg *ConnectorConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, rabbitmq.WithDeclareExchange(enabled))
	}
}

// NewConnector creates a connector. No connection is made until Connect.
func NewConnector(options ...ConnectorOption) *Connector {
	cfg := &ConnectorConfig{
		Logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	return &Connector{cfg: cfg}
}

// GetConnection returns the cached connection, creating it from details on first use.
// Details passed on later calls are ignored.
func (c *Connector) GetConnection(details contracts.ConnectionDetails) connector.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn
	}

	logger := c.cfg.Logger.With("component", "connector")

	connOpts := append([]rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(logger),
		rabbitmq.WithMetrics(c.cfg.Metrics),
	}, c.cfg.ConnectionOptions...)
	c.conn = rabbitmq.NewConnection(details, connOpts...)

	pubOpts := append([]rabbitmq.PublisherOption{
		rabbitmq.WithPublisherLogger(logger),
		rabbitmq.WithPublisherMetrics(c.cfg.Metrics),
	}, c.cfg.PublisherOptions...)
	c.publisher = rabbitmq.NewPublisher(c.conn, pubOpts...)

	c.poller = rabbitmq.NewResultPoller(c.conn,
		rabbitmq.WithPollerLogger(logger),
		rabbitmq.WithPollerMetrics(c.cfg.Metrics),
	)

	return c.conn
}

// Connect initializes conn once; later calls are no-ops while the session is healthy
func (c *Connector) Connect(ctx context.Context, conn connector.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, err := c.own(conn)
	if err != nil {
		return err
	}
	return lc.Connect(ctx)
}

// Publish sends body to the topic exchange details.Exchange with details.RoutingKey
func (c *Connector) Publish(ctx context.Context, conn connector.Connection, details contracts.ConnectionDetails, body []byte, props connector.Properties) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.own(conn); err != nil {
		return false, err
	}

	return c.publisher.Publish(ctx,
		rabbitmq.TopicExchange(details.Exchange),
		details.RoutingKey,
		toPublishing(body, props),
	)
}

// FetchResult polls the result queue for taskID once
func (c *Connector) FetchResult(ctx context.Context, conn connector.Connection, taskID string, expire time.Duration, removeAfterRead bool) (connector.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.own(conn); err != nil {
		return connector.Result{}, err
	}

	res, err := c.poller.Fetch(ctx, taskID, expire, removeAfterRead)
	if err != nil {
		return connector.Result{}, err
	}

	switch res.Outcome {
	case rabbitmq.FetchReady:
		msg := toMessage(res.Delivery)
		return connector.Result{
			Status:  connector.StatusReady,
			Body:    msg.Body,
			Message: msg,
		}, nil
	case rabbitmq.FetchNotBound:
		return connector.NotReady(connector.ReasonNotBound), nil
	default:
		return connector.NotReady(connector.ReasonNoMessage), nil
	}
}

// RemoveResult deletes the result queue for taskID. A connection that was down
// before the call is closed again afterwards.
func (c *Connector) RemoveResult(ctx context.Context, conn connector.Connection, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, err := c.own(conn)
	if err != nil {
		return err
	}

	wasConnected := lc.IsConnected()
	if err := lc.Connect(ctx); err != nil {
		return err
	}

	if q := c.poller.Queue(); q != nil && q.Name == taskID {
		c.poller.Reset()
	}

	_, err = rabbitmq.NewTopologyManager(lc).DeleteQueue(taskID, false, false)
	if err != nil {
		err = fmt.Errorf("remove result for %s: %w", taskID, err)
	}

	if !wasConnected {
		if derr := lc.Disconnect(); derr != nil {
			c.cfg.Logger.Warn("failed to close connection after removing result",
				"task_id", taskID, "error", derr)
		}
	}
	return err
}

// Disconnect closes conn and forgets the cached result queue
func (c *Connector) Disconnect(conn connector.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, err := c.own(conn)
	if err != nil {
		return err
	}
	c.poller.Reset()
	return lc.Disconnect()
}

// SetupTopology declares the task exchange and the results exchange. When queue is not
// empty a durable task queue bound with details.RoutingKey is declared as well.
func (c *Connector) SetupTopology(ctx context.Context, conn connector.Connection, details contracts.ConnectionDetails, queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, err := c.own(conn)
	if err != nil {
		return err
	}
	if err := lc.Connect(ctx); err != nil {
		return err
	}

	topology := rabbitmq.TaskTopology(details.Exchange)
	if queue != "" {
		topology = rabbitmq.TaskQueueTopology(details.Exchange, queue, details.RoutingKey)
	}

	if err := rabbitmq.NewTopologyManager(lc).DeclareTopology(topology); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}

	c.cfg.Logger.Info("declared task topology",
		"exchange", details.Exchange,
		"results_exchange", rabbitmq.ResultsExchange,
		"queue", queue)
	return nil
}

// own checks conn is the connection this connector handed out
func (c *Connector) own(conn connector.Connection) (*rabbitmq.Connection, error) {
	lc, ok := conn.(*rabbitmq.Connection)
	if !ok || lc == nil || lc != c.conn {
		return nil, rabbitmq.ErrConnectionMismatch
	}
	return lc, nil
}

func toPublishing(body []byte, props connector.Properties) amqp.Publishing {
	var headers amqp.Table
	if len(props.Headers) > 0 {
		headers = amqp.Table(props.Headers)
	}

	return amqp.Publishing{
		Headers:         headers,
		ContentType:     props.ContentType,
		ContentEncoding: props.ContentEncoding,
		DeliveryMode:    props.DeliveryMode,
		Priority:        props.Priority,
		CorrelationId:   props.CorrelationID,
		ReplyTo:         props.ReplyTo,
		Expiration:      props.Expiration,
		MessageId:       props.MessageID,
		Timestamp:       time.Now(),
		Body:            body,
	}
}

func toMessage(d amqp.Delivery) *connector.Message {
	return &connector.Message{
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		CorrelationID:   d.CorrelationId,
		MessageID:       d.MessageId,
		Headers:         map[string]any(d.Headers),
		Timestamp:       d.Timestamp,
		Exchange:        d.Exchange,
		RoutingKey:      d.RoutingKey,
		DeliveryTag:     d.DeliveryTag,
		Body:            d.Body,
		Raw:             d,
	}
}
