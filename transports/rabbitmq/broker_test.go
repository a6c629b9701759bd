package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type queueState struct {
	args     amqp.Table
	messages []amqp.Delivery
}

// memoryBroker is an in-process stand-in for RabbitMQ: direct routing only,
// exchanges must exist before queues can be bound to them
type memoryBroker struct {
	mu        sync.Mutex
	dials     int
	exchanges map[string]string
	queues    map[string]*queueState
	bindings  map[string]map[string][]string // exchange -> routing key -> queues
	published []published
	nack      bool
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		exchanges: map[string]string{},
		queues:    map[string]*queueState{},
		bindings:  map[string]map[string][]string{},
	}
}

func (b *memoryBroker) dial(url string, config amqp.Config) (AMQPConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	return &memoryConnection{broker: b}, nil
}

func (b *memoryBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *memoryBroker) hasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// declareExchange creates an exchange the way a worker does on startup
func (b *memoryBroker) declareExchange(name, kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges[name] = kind
}

// deliver routes a message the way a worker's publish would
func (b *memoryBroker) deliver(exchange, routingKey string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routeLocked(exchange, routingKey, msg)
}

func (b *memoryBroker) routeLocked(exchange, routingKey string, msg amqp.Publishing) {
	for _, name := range b.bindings[exchange][routingKey] {
		q := b.queues[name]
		if q == nil {
			continue
		}
		q.messages = append(q.messages, amqp.Delivery{
			Headers:         msg.Headers,
			ContentType:     msg.ContentType,
			ContentEncoding: msg.ContentEncoding,
			DeliveryMode:    msg.DeliveryMode,
			CorrelationId:   msg.CorrelationId,
			MessageId:       msg.MessageId,
			Timestamp:       msg.Timestamp,
			Exchange:        exchange,
			RoutingKey:      routingKey,
			DeliveryTag:     uint64(len(q.messages) + 1),
			Body:            msg.Body,
		})
	}
}

type memoryConnection struct {
	broker *memoryBroker
	mu     sync.Mutex
	closed bool
}

func (c *memoryConnection) Channel() (Channel, error) {
	return &memoryChannel{broker: c.broker}, nil
}

func (c *memoryConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memoryConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type memoryChannel struct {
	broker   *memoryBroker
	mu       sync.Mutex
	closed   bool
	confirms chan amqp.Confirmation
	tag      uint64
}

func (ch *memoryChannel) Confirm(noWait bool) error { return nil }

func (ch *memoryChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	ch.confirms = confirm
	return confirm
}

func (ch *memoryChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges[name] = kind
	return nil
}

func (ch *memoryChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	b := ch.broker
	b.mu.Lock()
	b.published = append(b.published, published{exchange: exchange, routingKey: key, msg: msg})
	b.routeLocked(exchange, key, msg)
	nack := b.nack
	b.mu.Unlock()

	if ch.confirms != nil {
		ch.tag++
		ch.confirms <- amqp.Confirmation{DeliveryTag: ch.tag, Ack: !nack}
	}
	return nil
}

func (ch *memoryChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = &queueState{args: args}
		b.queues[name] = q
	}
	return amqp.Queue{Name: name, Messages: len(q.messages)}, nil
}

func (ch *memoryChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.exchanges[exchange]; !ok {
		ch.Close()
		return &amqp.Error{
			Code:   amqp.NotFound,
			Reason: "NOT_FOUND - no exchange '" + exchange + "' in vhost '/'",
			Server: true,
		}
	}
	if b.bindings[exchange] == nil {
		b.bindings[exchange] = map[string][]string{}
	}
	b.bindings[exchange][key] = append(b.bindings[exchange][key], name)
	return nil
}

func (ch *memoryChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	delete(b.queues, name)
	return len(q.messages), nil
}

func (ch *memoryChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		ch.Close()
		return amqp.Delivery{}, false, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'", Server: true}
	}
	if len(q.messages) == 0 {
		return amqp.Delivery{}, false, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true, nil
}

func (ch *memoryChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *memoryChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}
