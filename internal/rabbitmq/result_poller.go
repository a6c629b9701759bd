package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/celery-amqp-go/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ResultQueue is the handle on a per-task result queue. The queue is named after the
// task id and bound to the results exchange under the same key.
type ResultQueue struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Expires    time.Duration
}

// NewResultQueue returns the durable, auto-deleting result queue for taskID
func NewResultQueue(taskID string, expires time.Duration) ResultQueue {
	return ResultQueue{
		Name:       taskID,
		Durable:    true,
		AutoDelete: true,
		Expires:    expires,
	}
}

// Arguments returns the queue arguments, x-expires in milliseconds when set
func (q ResultQueue) Arguments() amqp.Table {
	if q.Expires <= 0 {
		return nil
	}
	ms := q.Expires.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return amqp.Table{"x-expires": ms}
}

// Declaration returns the queue declaration for q
func (q ResultQueue) Declaration() QueueDeclaration {
	return QueueDeclaration{
		Name:       q.Name,
		Durable:    q.Durable,
		AutoDelete: q.AutoDelete,
		Arguments:  q.Arguments(),
	}
}

// FetchOutcome is the result of a single poll
type FetchOutcome int

const (
	FetchNoMessage FetchOutcome = iota
	FetchNotBound
	FetchReady
)

// FetchResult carries the outcome of a poll and, when ready, the delivery
type FetchResult struct {
	Outcome  FetchOutcome
	Delivery amqp.Delivery
}

// ResultPoller reads task results from per-task result queues. It caches the handle
// of the last bound queue so repeated polls for one task do not redeclare it.
type ResultPoller struct {
	conn     *Connection
	topology *TopologyManager
	exchange string
	logger   *slog.Logger
	metrics  *Metrics

	queue *ResultQueue
}

// PollerOption configures the poller
type PollerOption func(*ResultPoller)

// WithPollerLogger sets the poller logger
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *ResultPoller) {
		p.logger = logger
	}
}

// WithPollerMetrics records polls in m
func WithPollerMetrics(m *Metrics) PollerOption {
	return func(p *ResultPoller) {
		p.metrics = m
	}
}

// NewResultPoller creates a poller bound to the results exchange
func NewResultPoller(conn *Connection, options ...PollerOption) *ResultPoller {
	p := &ResultPoller{
		conn:     conn,
		topology: NewTopologyManager(conn),
		exchange: ResultsExchange,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Queue returns the cached queue handle, nil when nothing is bound
func (p *ResultPoller) Queue() *ResultQueue {
	return p.queue
}

// Reset forgets the cached queue handle
func (p *ResultPoller) Reset() {
	p.queue = nil
}

// Fetch makes one non-blocking attempt to read the result for taskID.
//
// The queue is declared and bound on the first poll for a task. A binding refused by
// the broker with a channel exception yields FetchNotBound and an empty queue FetchNoMessage; neither is an
// error. A message that is not JSON encoded is a *contracts.ContentTypeError and is
// not retryable. After a successful read the queue is optionally deleted and the
// connection is closed.
func (p *ResultPoller) Fetch(ctx context.Context, taskID string, expire time.Duration, removeAfterRead bool) (FetchResult, error) {
	start := time.Now()
	logger := p.logger.With("task_id", taskID)

	if p.queue == nil || p.queue.Name != taskID || !p.conn.IsConnected() {
		bound, err := p.bind(ctx, taskID, expire)
		if err != nil {
			p.metrics.observePoll(PollError, start)
			return FetchResult{}, err
		}
		if !bound {
			logger.Debug("result queue not bound yet", "exchange", p.exchange)
			p.metrics.observePoll(PollNotBound, start)
			return FetchResult{Outcome: FetchNotBound}, nil
		}
	}

	ch, err := p.conn.Channel()
	if err != nil {
		p.queue = nil
		p.metrics.observePoll(PollError, start)
		return FetchResult{}, fmt.Errorf("get result for %s: %w", taskID, err)
	}

	msg, ok, err := ch.Get(p.queue.Name, true)
	if err != nil {
		if closesChannel(err) {
			p.conn.DropChannel()
		}
		p.queue = nil
		p.metrics.observePoll(PollError, start)
		return FetchResult{}, fmt.Errorf("get result for %s: %w", taskID, err)
	}

	if !ok {
		p.metrics.observePoll(PollNoMessage, start)
		return FetchResult{Outcome: FetchNoMessage}, nil
	}

	if msg.ContentType != contracts.ContentType {
		p.metrics.observePoll(PollContentType, start)
		return FetchResult{}, &contracts.ContentTypeError{
			TaskID:   taskID,
			Expected: contracts.ContentType,
			Got:      msg.ContentType,
		}
	}

	// The message is already acked; cleanup failures are logged so the result is
	// still returned.
	if removeAfterRead {
		if _, err := p.topology.DeleteQueue(p.queue.Name, false, false); err != nil {
			logger.Warn("failed to delete result queue", "queue", p.queue.Name, "error", err)
		}
	}

	p.queue = nil
	if err := p.conn.Disconnect(); err != nil {
		logger.Warn("failed to close connection after reading result", "error", err)
	}

	logger.Debug("received task result", "bytes", len(msg.Body))
	p.metrics.observePoll(PollReady, start)

	return FetchResult{Outcome: FetchReady, Delivery: msg}, nil
}

// bind declares the result queue for taskID and binds it to the results exchange.
// It returns false, nil when the broker refuses the binding with a channel exception,
// typically because the results exchange does not exist yet.
func (p *ResultPoller) bind(ctx context.Context, taskID string, expire time.Duration) (bool, error) {
	p.queue = nil

	if err := p.conn.Connect(ctx); err != nil {
		return false, err
	}

	queue := NewResultQueue(taskID, expire)
	if _, err := p.topology.DeclareQueue(queue.Declaration()); err != nil {
		return false, err
	}

	err := p.topology.BindQueue(Binding{
		Queue:      queue.Name,
		Exchange:   p.exchange,
		RoutingKey: taskID,
	})
	if err != nil {
		if IsChannelException(err) {
			p.logger.Debug("result queue bind refused", "task_id", taskID, "error", err)
			return false, nil
		}
		return false, err
	}

	p.queue = &queue
	return true, nil
}
