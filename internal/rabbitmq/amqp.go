package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by the connector
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	IsClosed() bool
	Close() error
}

// AMQPConnection is the subset of *amqp.Connection used by the connector
type AMQPConnection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a network connection to the broker
type Dialer func(url string, config amqp.Config) (AMQPConnection, error)

// DialAMQP dials the broker with amqp091-go
func DialAMQP(url string, config amqp.Config) (AMQPConnection, error) {
	conn, err := amqp.DialConfig(url, config)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}
