package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testDetails = contracts.ConnectionDetails{
	Host:       "h",
	Exchange:   "celery",
	RoutingKey: "taskA",
}.WithDefaults()

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockChannel mocks the broker operations and tracks its own closed state
type mockChannel struct {
	mock.Mock
	closed   atomic.Bool
	closes   atomic.Int32
	confirms chan amqp.Confirmation
}

func newMockChannel() *mockChannel {
	ch := &mockChannel{confirms: make(chan amqp.Confirmation, 1)}
	ch.On("Confirm", false).Return(nil).Maybe()
	ch.On("NotifyPublish", mock.Anything).Return(ch.confirms).Maybe()
	return ch
}

func (m *mockChannel) Confirm(noWait bool) error {
	args := m.Called(noWait)
	return args.Error(0)
}

func (m *mockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	args := m.Called(confirm)
	return args.Get(0).(chan amqp.Confirmation)
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, table amqp.Table) error {
	args := m.Called(name, kind, durable, autoDelete, internal, noWait, table)
	return args.Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, table amqp.Table) (amqp.Queue, error) {
	args := m.Called(name, durable, autoDelete, exclusive, noWait, table)
	return args.Get(0).(amqp.Queue), args.Error(1)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, table amqp.Table) error {
	args := m.Called(name, key, exchange, noWait, table)
	return args.Error(0)
}

func (m *mockChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	args := m.Called(name, ifUnused, ifEmpty, noWait)
	return args.Int(0), args.Error(1)
}

func (m *mockChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	args := m.Called(queue, autoAck)
	return args.Get(0).(amqp.Delivery), args.Bool(1), args.Error(2)
}

func (m *mockChannel) IsClosed() bool {
	return m.closed.Load()
}

func (m *mockChannel) Close() error {
	m.closes.Add(1)
	m.closed.Store(true)
	return nil
}

// fakeAMQPConnection hands out a fresh mockChannel per Channel call
type fakeAMQPConnection struct {
	mu         sync.Mutex
	closed     bool
	channelErr error
	channels   []*mockChannel
	prepare    func(ch *mockChannel)
}

func (f *fakeAMQPConnection) Channel() (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.channelErr != nil {
		return nil, f.channelErr
	}
	ch := newMockChannel()
	if f.prepare != nil {
		f.prepare(ch)
	}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeAMQPConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeAMQPConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAMQPConnection) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// fixture wires a Connection to fake broker connections
type fixture struct {
	conn     *Connection
	registry *prometheus.Registry

	mu      sync.Mutex
	dials   int
	urls    []string
	dialErr error
	brokers []*fakeAMQPConnection
	prepare func(ch *mockChannel)
}

func newFixture(t *testing.T, options ...ConnectionOption) *fixture {
	t.Helper()

	f := &fixture{registry: prometheus.NewRegistry()}
	dialer := func(url string, config amqp.Config) (AMQPConnection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.dials++
		f.urls = append(f.urls, url)
		if f.dialErr != nil {
			return nil, f.dialErr
		}
		broker := &fakeAMQPConnection{prepare: f.prepare}
		f.brokers = append(f.brokers, broker)
		return broker, nil
	}

	options = append([]ConnectionOption{
		WithDialer(dialer),
		WithLogger(discardLogger()),
		WithMetrics(NewMetrics(f.registry)),
	}, options...)
	f.conn = NewConnection(testDetails, options...)
	return f
}

// connect connects the fixture and returns the channel that was opened
func (f *fixture) connect(t *testing.T) *mockChannel {
	t.Helper()
	require.NoError(t, f.conn.Connect(context.Background()))
	return f.channel()
}

func (f *fixture) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fixture) broker() *fakeAMQPConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.brokers) == 0 {
		return nil
	}
	return f.brokers[len(f.brokers)-1]
}

// channel returns the most recently opened channel
func (f *fixture) channel() *mockChannel {
	b := f.broker()
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.channels) == 0 {
		return nil
	}
	return b.channels[len(b.channels)-1]
}

// counter returns the value of the counter name with the given labels
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := f.registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			match := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					match = false
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

var errBoom = errors.New("boom")

func notFound(reason string) *amqp.Error {
	return &amqp.Error{Code: amqp.NotFound, Reason: reason, Server: true}
}
