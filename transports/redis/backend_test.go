package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestBackend(rdb Client, options ...BackendOption) *Backend {
	options = append([]BackendOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, options...)
	return NewBackendWithClient(rdb, options...)
}

func TestNewBackend(t *testing.T) {
	t.Run("parses url", func(t *testing.T) {
		b, err := NewBackend("redis://localhost:6379/1")
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, "celery-task-meta-t-1", b.Key("t-1"))
	})

	t.Run("rejects bad url", func(t *testing.T) {
		_, err := NewBackend("amqp://localhost")
		assert.ErrorIs(t, err, contracts.ErrInvalidDetails)
	})

	t.Run("custom prefix", func(t *testing.T) {
		b := newTestBackend(&mockClient{}, WithKeyPrefix("results:"))
		assert.Equal(t, "results:t-1", b.Key("t-1"))
	})
}

func TestBackendFetchResult(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key is not ready", func(t *testing.T) {
		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult("", redis.Nil)).Once()

		res, err := newTestBackend(rdb).FetchResult(ctx, "t-1")

		require.NoError(t, err)
		assert.False(t, res.Ready())
		assert.Equal(t, connector.ReasonNoMessage, res.Reason)
		rdb.AssertExpectations(t)
	})

	t.Run("returns stored json result", func(t *testing.T) {
		rdb := &mockClient{}
		stored := `{"task_id":"t-1","status":"SUCCESS","result":5,"traceback":null,"children":[],"date_done":"2024-05-01T10:00:00"}`
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult(stored, nil)).Once()

		res, err := newTestBackend(rdb).FetchResult(ctx, "t-1")

		require.NoError(t, err)
		require.True(t, res.Ready())
		assert.Equal(t, contracts.ContentType, res.Message.ContentType)

		tr, err := contracts.DecodeTaskResult(res.Body)
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusSuccess, tr.Status)
		assert.JSONEq(t, `5`, string(tr.Result))
		rdb.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})

	t.Run("decodes msgpack results", func(t *testing.T) {
		raw, err := msgpack.Marshal(map[string]any{
			"task_id":   "t-1",
			"status":    "SUCCESS",
			"result":    map[string]any{"sum": 5},
			"traceback": nil,
			"children":  []any{},
		})
		require.NoError(t, err)

		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult(string(raw), nil)).Once()

		res, err := newTestBackend(rdb, WithSerializer(Msgpack)).FetchResult(ctx, "t-1")

		require.NoError(t, err)
		tr, err := contracts.DecodeTaskResult(res.Body)
		require.NoError(t, err)
		assert.Equal(t, "t-1", tr.TaskID)
		assert.JSONEq(t, `{"sum":5}`, string(tr.Result))
	})

	t.Run("deletes final results when asked", func(t *testing.T) {
		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult(`{"task_id":"t-1","status":"FAILURE","result":null}`, nil)).Once()
		rdb.On("Del", ctx, []string{"celery-task-meta-t-1"}).Return(redis.NewIntResult(1, nil)).Once()

		res, err := newTestBackend(rdb, WithRemoveAfterRead(true)).FetchResult(ctx, "t-1")

		require.NoError(t, err)
		assert.True(t, res.Ready())
		rdb.AssertExpectations(t)
	})

	t.Run("keeps in-progress states", func(t *testing.T) {
		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult(`{"task_id":"t-1","status":"STARTED","result":null}`, nil)).Once()

		_, err := newTestBackend(rdb, WithRemoveAfterRead(true)).FetchResult(ctx, "t-1")

		require.NoError(t, err)
		rdb.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})

	t.Run("undecodable payload is fatal", func(t *testing.T) {
		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult("\x80\x04\x95", nil)).Once()

		_, err := newTestBackend(rdb).FetchResult(ctx, "t-1")

		assert.Equal(t, contracts.KindContentType, contracts.KindOf(err))
	})

	t.Run("server errors are returned", func(t *testing.T) {
		rdb := &mockClient{}
		rdb.On("Get", ctx, "celery-task-meta-t-1").Return(redis.NewStringResult("", assert.AnError)).Once()

		_, err := newTestBackend(rdb).FetchResult(ctx, "t-1")

		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, contracts.KindTransport, contracts.KindOf(err))
	})
}

func TestSerializerByName(t *testing.T) {
	s, err := SerializerByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, Msgpack, s)

	s, err = SerializerByName("")
	require.NoError(t, err)
	assert.Equal(t, JSON, s)

	_, err = SerializerByName("pickle")
	assert.ErrorIs(t, err, contracts.ErrInvalidDetails)
}

func TestBackendPing(t *testing.T) {
	rdb := &mockClient{}
	rdb.On("Ping", mock.Anything).Return(redis.NewStatusResult("PONG", nil)).Once()
	rdb.On("Close").Return(nil).Once()

	b := newTestBackend(rdb)
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
	rdb.AssertExpectations(t)
}
