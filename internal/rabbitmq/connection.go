package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/celery-amqp-go/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection owns one broker connection and the single channel opened over it.
// It is created unconnected; Connect performs the handshake.
type Connection struct {
	details     contracts.ConnectionDetails
	dialer      Dialer
	config      amqp.Config
	dialTimeout time.Duration
	confirms    bool
	logger      *slog.Logger
	metrics     *Metrics

	mu          sync.Mutex
	conn        AMQPConnection
	channel     Channel
	confirmCh   chan amqp.Confirmation
	initialized bool
}

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithDialer replaces the function used to reach the broker
func WithDialer(dialer Dialer) ConnectionOption {
	return func(c *Connection) {
		c.dialer = dialer
	}
}

// WithDialTimeout bounds the handshake
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.dialTimeout = timeout
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.config.Heartbeat = interval
	}
}

// WithConnectionName sets the name shown for the connection in the management UI
func WithConnectionName(name string) ConnectionOption {
	return func(c *Connection) {
		c.config.Properties.SetClientConnectionName(name)
	}
}

// WithConfirms enables publisher confirms on the channel
func WithConfirms(enabled bool) ConnectionOption {
	return func(c *Connection) {
		c.confirms = enabled
	}
}

// WithMetrics records handshakes in m
func WithMetrics(m *Metrics) ConnectionOption {
	return func(c *Connection) {
		c.metrics = m
	}
}

// NewConnection creates an unconnected Connection for details. No network I/O happens
// until Connect.
func NewConnection(details contracts.ConnectionDetails, options ...ConnectionOption) *Connection {
	c := &Connection{
		details:     details,
		dialer:      DialAMQP,
		dialTimeout: 30 * time.Second,
		confirms:    true,
		logger:      slog.Default(),
		config: amqp.Config{
			Heartbeat:  10 * time.Second,
			Locale:     "en_US",
			Properties: amqp.NewConnectionProperties(),
		},
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Details returns the connection details the Connection was created with
func (c *Connection) Details() contracts.ConnectionDetails {
	return c.details
}

// Connect dials the broker and opens the channel. Calling it on an initialized,
// healthy connection does nothing.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		if c.aliveLocked() {
			return nil
		}
		c.logger.Warn("broker session lost, reconnecting", "url", c.details.Redacted())
	}
	c.dropChannelLocked()

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := c.dial(ctx)
		c.metrics.observeConnect(err)
		if err != nil {
			return &ConnectionError{
				Op:        "connect",
				URL:       c.details.Redacted(),
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		c.conn = conn
		c.logger.Info("connected to RabbitMQ", "url", c.details.Redacted())
	}

	if err := c.openChannelLocked(); err != nil {
		c.closeLocked()
		return &ConnectionError{
			Op:        "open channel",
			URL:       c.details.Redacted(),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.initialized = true
	return nil
}

// dial runs the dialer bounded by ctx and the dial timeout
func (c *Connection) dial(ctx context.Context) (AMQPConnection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	type dialResult struct {
		conn AMQPConnection
		err  error
	}
	done := make(chan dialResult, 1)

	go func() {
		conn, err := c.dialer(c.details.URL(), c.config)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-dialCtx.Done():
		// Close a connection that completes after we gave up on it.
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrConnectionTimeout
		}
		return nil, dialCtx.Err()
	}
}

func (c *Connection) openChannelLocked() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	if c.confirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return err
		}
		c.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	c.channel = ch
	return nil
}

// Channel returns the open channel
func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || c.channel == nil {
		return nil, ErrNotConnected
	}
	if c.channel.IsClosed() {
		return nil, ErrChannelClosed
	}
	return c.channel, nil
}

// confirmations returns the publisher confirm stream, nil when confirms are off
func (c *Connection) confirmations() <-chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmCh
}

// IsConnected reports whether the connection is initialized and usable
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && c.aliveLocked()
}

func (c *Connection) aliveLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() &&
		c.channel != nil && !c.channel.IsClosed()
}

// DropChannel forgets the channel after the broker closed it with a channel
// exception. The network connection is kept; the next Connect opens a new channel.
func (c *Connection) DropChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropChannelLocked()
}

func (c *Connection) dropChannelLocked() {
	if c.channel != nil && !c.channel.IsClosed() {
		c.channel.Close()
	}
	c.channel = nil
	c.confirmCh = nil
	c.initialized = false
}

// Disconnect closes the channel and the connection and returns the Connection to its
// unconnected state. It is safe to call more than once.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil && c.channel == nil {
		return nil
	}

	err := c.closeLocked()
	c.logger.Info("disconnected from RabbitMQ", "url", c.details.Redacted())
	return err
}

func (c *Connection) closeLocked() error {
	var errs []error

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.resetLocked()
	return errors.Join(errs...)
}

func (c *Connection) resetLocked() {
	c.conn = nil
	c.channel = nil
	c.confirmCh = nil
	c.initialized = false
}
