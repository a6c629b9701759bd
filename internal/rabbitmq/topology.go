package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ResultsExchange is the exchange workers publish task results to. Result queues are
// bound to it with the task id as binding key.
const ResultsExchange = "celery"

// TopologyManager declares exchanges, queues and bindings over a Connection's channel
type TopologyManager struct {
	conn *Connection
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology groups declarations applied together
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(conn *Connection) *TopologyManager {
	return &TopologyManager{
		conn: conn,
	}
}

// DeclareTopology declares every exchange, then every queue, then every binding
func (tm *TopologyManager) DeclareTopology(topology Topology) error {
	for _, exchange := range topology.Exchanges {
		if err := tm.DeclareExchange(exchange); err != nil {
			return err
		}
	}

	for _, queue := range topology.Queues {
		if _, err := tm.DeclareQueue(queue); err != nil {
			return err
		}
	}

	for _, binding := range topology.Bindings {
		if err := tm.BindQueue(binding); err != nil {
			return err
		}
	}

	return nil
}

// DeclareExchange declares a single exchange
func (tm *TopologyManager) DeclareExchange(exchange ExchangeDeclaration) error {
	ch, err := tm.conn.Channel()
	if err != nil {
		return tm.fail("exchange", exchange.Name, "declare", err)
	}

	err = ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return tm.fail("exchange", exchange.Name, "declare", err)
	}
	return nil
}

// DeclareQueue declares a single queue
func (tm *TopologyManager) DeclareQueue(queue QueueDeclaration) (amqp.Queue, error) {
	ch, err := tm.conn.Channel()
	if err != nil {
		return amqp.Queue{}, tm.fail("queue", queue.Name, "declare", err)
	}

	q, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return amqp.Queue{}, tm.fail("queue", queue.Name, "declare", err)
	}
	return q, nil
}

// BindQueue creates a queue binding
func (tm *TopologyManager) BindQueue(binding Binding) error {
	ch, err := tm.conn.Channel()
	if err != nil {
		return tm.fail("binding", binding.Queue, "bind", err)
	}

	err = ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
	if err != nil {
		return tm.fail("binding", fmt.Sprintf("%s->%s", binding.Exchange, binding.Queue), "bind", err)
	}
	return nil
}

// DeleteQueue deletes a queue and returns the number of messages purged with it
func (tm *TopologyManager) DeleteQueue(name string, ifUnused, ifEmpty bool) (int, error) {
	ch, err := tm.conn.Channel()
	if err != nil {
		return 0, tm.fail("queue", name, "delete", err)
	}

	purged, err := ch.QueueDelete(name, ifUnused, ifEmpty, false)
	if err != nil {
		return 0, tm.fail("queue", name, "delete", err)
	}
	return purged, nil
}

// fail wraps err and drops the channel when the broker closed it
func (tm *TopologyManager) fail(component, name, op string, err error) error {
	if closesChannel(err) {
		tm.conn.DropChannel()
	}
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// TaskTopology returns the exchanges a Celery deployment expects: the durable topic
// task exchange and the results exchange result queues bind to.
func TaskTopology(taskExchange string) Topology {
	topology := Topology{
		Exchanges: []ExchangeDeclaration{
			{
				Name:    taskExchange,
				Type:    amqp.ExchangeTopic,
				Durable: true,
			},
		},
	}

	if taskExchange != ResultsExchange {
		topology.Exchanges = append(topology.Exchanges, ExchangeDeclaration{
			Name:    ResultsExchange,
			Type:    amqp.ExchangeDirect,
			Durable: true,
		})
	}

	return topology
}

// TaskQueueTopology extends TaskTopology with a durable task queue bound to the task
// exchange under routingKey, so published tasks are kept until a worker starts.
func TaskQueueTopology(taskExchange, queue, routingKey string) Topology {
	topology := TaskTopology(taskExchange)
	topology.Queues = append(topology.Queues, QueueDeclaration{
		Name:    queue,
		Durable: true,
	})
	topology.Bindings = append(topology.Bindings, Binding{
		Queue:      queue,
		Exchange:   taskExchange,
		RoutingKey: routingKey,
	})
	return topology
}
