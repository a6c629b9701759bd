// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package celery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/glimte/celery-amqp-go/internal/reliability"
	rabbitmqTransport "github.com/glimte/celery-amqp-go/transports/rabbitmq"
	"github.com/google/uuid"
)

// Client provides the main entry point for posting tasks and reading their results
type Client struct {
	connector connector.Connector
	conn      connector.Connection
	backend   connector.ResultBackend
	details   contracts.ConnectionDetails
	logger    *slog.Logger

	resultExpiry    time.Duration
	removeAfterRead bool
	pollPolicy      PollPolicy
}

// NewClient creates a client for the broker at brokerURL publishing to the default
// "celery" exchange and routing key
func NewClient(brokerURL string, options ...ClientOption) (*Client, error) {
	details, err := contracts.ParseDetails(brokerURL, contracts.DefaultExchange, contracts.DefaultRoutingKey)
	if err != nil {
		return nil, err
	}
	return NewClientWithDetails(details, options...)
}

// NewClientWithDetails creates a client from explicit connection details. No network
// I/O happens until the first task is posted or polled.
func NewClientWithDetails(details contracts.ConnectionDetails, options ...ClientOption) (*Client, error) {
	details = details.WithDefaults()
	if err := details.Validate(); err != nil {
		return nil, err
	}

	cfg := &clientConfig{
		logger:          slog.Default(),
		resultExpiry:    24 * time.Hour,
		removeAfterRead: true,
		pollPolicy:      reliability.DefaultPollPolicy(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.connector == nil {
		cfg.connector = rabbitmqTransport.NewConnector(
			rabbitmqTransport.WithLogger(cfg.logger),
		)
	}

	return &Client{
		connector:       cfg.connector,
		conn:            cfg.connector.GetConnection(details),
		backend:         cfg.backend,
		details:         details,
		logger:          cfg.logger,
		resultExpiry:    cfg.resultExpiry,
		removeAfterRead: cfg.removeAfterRead,
		pollPolicy:      cfg.pollPolicy,
	}, nil
}

// Details returns the connection details the client publishes with
func (c *Client) Details() contracts.ConnectionDetails {
	return c.details
}

// Connector returns the underlying connector
func (c *Client) Connector() connector.Connector {
	return c.connector
}

// Connection returns the connection handle shared by every call on the client
func (c *Client) Connection() connector.Connection {
	return c.conn
}

// PostTask publishes task name with args and kwargs under a fresh task id
func (c *Client) PostTask(ctx context.Context, name string, args []any, kwargs map[string]any) (*AsyncResult, error) {
	return c.PostTaskMessage(ctx, contracts.NewTaskMessage(uuid.NewString(), name, args, kwargs))
}

// PostTaskMessage publishes a prepared task message. The message id becomes the task id.
func (c *Client) PostTaskMessage(ctx context.Context, msg *contracts.TaskMessage) (*AsyncResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	body, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	if err := c.connector.Connect(ctx, c.conn); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	props := connector.DefaultProperties()
	props.CorrelationID = msg.ID
	props.MessageID = msg.ID

	acked, err := c.connector.Publish(ctx, c.conn, c.details, body, props)
	if err != nil {
		return nil, fmt.Errorf("failed to publish task %s: %w", msg.Task, err)
	}
	if !acked {
		return nil, fmt.Errorf("%w: task %s (%s)", contracts.ErrPublishRejected, msg.Task, msg.ID)
	}

	c.logger.Debug("posted task",
		"task_id", msg.ID,
		"task", msg.Task,
		"exchange", c.details.Exchange,
		"routing_key", c.details.RoutingKey)

	return c.Result(msg.ID), nil
}

// Result returns a handle on the result of an already posted task
func (c *Client) Result(taskID string) *AsyncResult {
	return &AsyncResult{
		client: c,
		taskID: taskID,
	}
}

// fetch makes one poll for taskID, against the result backend when one is configured.
// The result queue is kept: the message read may be an intermediate state, and the
// final one must still have a queue to be routed to. See discard.
func (c *Client) fetch(ctx context.Context, taskID string) (connector.Result, error) {
	if c.backend != nil {
		return c.backend.FetchResult(ctx, taskID)
	}
	removeAfterRead := c.removeAfterRead
	if _, ok := c.connector.(connector.ResultRemover); ok {
		removeAfterRead = false
	}
	return c.connector.FetchResult(ctx, c.conn, taskID, c.resultExpiry, removeAfterRead)
}

// discard removes the result queue of a task whose final state has been read. A
// failure is logged; the result is already in hand.
func (c *Client) discard(ctx context.Context, taskID string) {
	if c.backend != nil || !c.removeAfterRead {
		return
	}
	remover, ok := c.connector.(connector.ResultRemover)
	if !ok {
		return
	}
	if err := remover.RemoveResult(ctx, c.conn, taskID); err != nil {
		c.logger.Warn("failed to remove result queue", "task_id", taskID, "error", err)
	}
}

// Close disconnects from the broker and closes the result backend
func (c *Client) Close() error {
	err := c.connector.Disconnect(c.conn)
	if c.backend != nil {
		err = errors.Join(err, c.backend.Close())
	}
	return err
}
