package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is a lightweight handle on a broker exchange. It is built per publish and
// always refers to the same broker-side entity.
type Exchange struct {
	Name string
	Kind string
}

// TopicExchange returns a handle on the topic exchange name
func TopicExchange(name string) Exchange {
	return Exchange{Name: name, Kind: amqp.ExchangeTopic}
}

// Publisher publishes task messages over a Connection's channel
type Publisher struct {
	conn           *Connection
	topology       *TopologyManager
	confirmTimeout time.Duration
	declare        bool
	logger         *slog.Logger
	metrics        *Metrics
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for the broker to confirm a publish
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithDeclareExchange declares the exchange as a durable topic exchange before each
// publish
func WithDeclareExchange(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.declare = enabled
	}
}

// WithPublisherLogger sets the publisher logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics records publishes in m
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a new publisher
func NewPublisher(conn *Connection, options ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:           conn,
		topology:       NewTopologyManager(conn),
		confirmTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg to exchange with routingKey, mandatory and immediate off.
// The returned bool is the broker's ack when confirms are enabled; otherwise it is
// true once the frame is written.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey string, msg amqp.Publishing) (bool, error) {
	acked, err := p.publish(ctx, exchange, routingKey, msg)
	p.metrics.observePublish(exchange.Name, acked, err)
	return acked, err
}

func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey string, msg amqp.Publishing) (bool, error) {
	if p.declare {
		err := p.topology.DeclareExchange(ExchangeDeclaration{
			Name:    exchange.Name,
			Type:    exchange.Kind,
			Durable: true,
		})
		if err != nil {
			return false, p.fail(exchange, routingKey, err)
		}
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return false, p.fail(exchange, routingKey, err)
	}
	confirms := p.conn.confirmations()

	if err := ch.PublishWithContext(
		ctx,
		exchange.Name,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		if closesChannel(err) {
			p.conn.DropChannel()
		}
		return false, p.fail(exchange, routingKey, err)
	}

	if confirms == nil {
		p.logger.Debug("published task",
			"exchange", exchange.Name,
			"routing_key", routingKey,
			"message_id", msg.MessageId)
		return true, nil
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-confirms:
		if !ok {
			p.conn.DropChannel()
			return false, p.fail(exchange, routingKey, ErrChannelClosed)
		}
		if !confirm.Ack {
			p.logger.Warn("broker rejected task",
				"exchange", exchange.Name,
				"routing_key", routingKey,
				"delivery_tag", confirm.DeliveryTag)
			return false, nil
		}
		p.logger.Debug("published task",
			"exchange", exchange.Name,
			"routing_key", routingKey,
			"message_id", msg.MessageId,
			"delivery_tag", confirm.DeliveryTag)
		return true, nil

	case <-timer.C:
		// A late confirmation would be read by the next publish; start over on a
		// fresh channel instead.
		p.conn.DropChannel()
		return false, p.fail(exchange, routingKey, ErrConfirmTimeout)

	case <-ctx.Done():
		p.conn.DropChannel()
		return false, p.fail(exchange, routingKey, ctx.Err())
	}
}

func (p *Publisher) fail(exchange Exchange, routingKey string, err error) error {
	return &PublishError{
		Exchange:   exchange.Name,
		RoutingKey: routingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
