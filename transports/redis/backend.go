// Package redis reads task results from a Celery Redis result backend.
//
// Workers configured with result_backend = "redis://..." store every task state under
// the key "celery-task-meta-<task id>". Backend polls that key; a missing key is a
// NotReady result.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the prefix Celery stores task results under
const KeyPrefix = "celery-task-meta-"

var _ connector.ResultBackend = (*Backend)(nil)

// Client is the subset of *redis.Client the backend uses
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Backend is a connector.ResultBackend over Redis
type Backend struct {
	rdb             Client
	prefix          string
	serializer      Serializer
	removeAfterRead bool
	logger          *slog.Logger
}

// BackendOption configures the backend
type BackendOption func(*Backend)

// WithLogger sets the backend logger
func WithLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithKeyPrefix overrides the key prefix, for workers with a custom backend prefix
func WithKeyPrefix(prefix string) BackendOption {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithSerializer sets how stored results are decoded
func WithSerializer(s Serializer) BackendOption {
	return func(b *Backend) {
		b.serializer = s
	}
}

// WithRemoveAfterRead deletes a final result once it was read
func WithRemoveAfterRead(enabled bool) BackendOption {
	return func(b *Backend) {
		b.removeAfterRead = enabled
	}
}

// NewBackend connects to the Redis server at url, e.g. "redis://localhost:6379/0".
// The client dials lazily.
func NewBackend(url string, options ...BackendOption) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: result backend: %v", contracts.ErrInvalidDetails, err)
	}
	return NewBackendWithClient(redis.NewClient(opts), options...), nil
}

// NewBackendWithClient creates a backend over an existing client
func NewBackendWithClient(rdb Client, options ...BackendOption) *Backend {
	b := &Backend{
		rdb:        rdb,
		prefix:     KeyPrefix,
		serializer: JSON,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

// Key returns the key the result of taskID is stored under
func (b *Backend) Key(taskID string) string {
	return b.prefix + taskID
}

// FetchResult reads the stored state of taskID once
func (b *Backend) FetchResult(ctx context.Context, taskID string) (connector.Result, error) {
	key := b.Key(taskID)

	raw, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return connector.NotReady(connector.ReasonNoMessage), nil
	}
	if err != nil {
		return connector.Result{}, fmt.Errorf("get result for %s: %w", taskID, err)
	}

	tr, err := b.serializer.Decode(raw)
	if err != nil {
		return connector.Result{}, &contracts.ContentTypeError{
			TaskID:   taskID,
			Expected: b.serializer.ContentType(),
			Got:      "undecodable payload",
		}
	}

	body, err := tr.Encode()
	if err != nil {
		return connector.Result{}, err
	}

	if b.removeAfterRead && tr.Status.Ready() {
		if err := b.rdb.Del(ctx, key).Err(); err != nil {
			b.logger.Warn("failed to delete stored result", "task_id", taskID, "key", key, "error", err)
		}
	}

	b.logger.Debug("read task result from redis", "task_id", taskID, "status", tr.Status)

	return connector.Result{
		Status: connector.StatusReady,
		Body:   body,
		Message: &connector.Message{
			ContentType:     contracts.ContentType,
			ContentEncoding: "utf-8",
			RoutingKey:      key,
			Body:            body,
			Raw:             raw,
		},
	}, nil
}

// Ping checks the server is reachable
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the client
func (b *Backend) Close() error {
	return b.rdb.Close()
}
