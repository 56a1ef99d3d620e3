package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testEvent struct {
	ID string `msgpack:"id"`
}

func rawEvent(e testEvent) (map[string]any, error) {
	if e.ID == "" {
		return nil, errors.New("empty id")
	}
	return map[string]any{"id": e.ID}, nil
}

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name   string
		client *redis.Client
		stream string
		errMsg string
	}{
		{name: "valid configuration", client: redis.NewClient(&redis.Options{}), stream: "test-stream"},
		{name: "nil client", stream: "test-stream", errMsg: "Redis client cannot be nil"},
		{name: "empty stream", client: redis.NewClient(&redis.Options{}), stream: "", errMsg: "Stream cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			if tt.client != nil {
				defer tt.client.Close()
			}

			producer, err := NewProducer[testEvent](tt.client, tt.stream, WithProducerLogger[testEvent](discardLogger))
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				assert.Nil(t, producer)
				return
			}
			require.NoError(t, err)
			producer.Close()
		})
	}
}

func TestProducer_Publish(t *testing.T) {
	t.Run("publish before start", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		producer, err := NewProducer[testEvent](client, "test-stream", WithProducerLogger[testEvent](discardLogger))
		require.NoError(t, err)
		assert.ErrorIs(t, producer.Publish(context.Background(), testEvent{ID: "1"}), ErrProducerClosed)
	})

	t.Run("publish waits for each XADD", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		for _, id := range []string{"1", "2", "3"} {
			mock.ExpectXAdd(&redis.XAddArgs{Stream: "test-stream", Values: map[string]any{"id": id}}).SetVal(id + "-0")
		}

		producer, err := NewProducer[testEvent](client, "test-stream",
			WithProducerLogger[testEvent](discardLogger),
			WithProducerParseFunc[testEvent](rawEvent),
		)
		require.NoError(t, err)
		producer.Start()
		producer.Start()

		for _, id := range []string{"1", "2", "3"} {
			require.NoError(t, producer.Publish(context.Background(), testEvent{ID: id}))
		}
		producer.Close()
		producer.Close()

		assert.ErrorIs(t, producer.Publish(context.Background(), testEvent{ID: "4"}), ErrProducerClosed)
	})

	t.Run("max len trims approximately", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "test-stream",
			MaxLen: 100,
			Approx: true,
			Values: map[string]any{"id": "1"},
		}).SetVal("1-0")

		producer, err := NewProducer[testEvent](client, "test-stream",
			WithProducerLogger[testEvent](discardLogger),
			WithProducerParseFunc[testEvent](rawEvent),
			WithProducerMaxLen[testEvent](100),
		)
		require.NoError(t, err)
		producer.Start()
		require.NoError(t, producer.Publish(context.Background(), testEvent{ID: "1"}))
		producer.Close()
	})

	t.Run("redis error is returned and does not stop the producer", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXAdd(&redis.XAddArgs{Stream: "test-stream", Values: map[string]any{"id": "1"}}).SetErr(errors.New("connection reset"))
		mock.ExpectXAdd(&redis.XAddArgs{Stream: "test-stream", Values: map[string]any{"id": "2"}}).SetVal("2-0")

		producer, err := NewProducer[testEvent](client, "test-stream",
			WithProducerLogger[testEvent](discardLogger),
			WithProducerParseFunc[testEvent](rawEvent),
		)
		require.NoError(t, err)
		producer.Start()
		err = producer.Publish(context.Background(), testEvent{ID: "1"})
		assert.ErrorContains(t, err, "connection reset")
		require.NoError(t, producer.Publish(context.Background(), testEvent{ID: "2"}))
		producer.Close()
	})

	t.Run("parse error is returned to caller", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		producer, err := NewProducer[testEvent](client, "test-stream",
			WithProducerLogger[testEvent](discardLogger),
			WithProducerParseFunc[testEvent](rawEvent),
		)
		require.NoError(t, err)
		producer.Start()
		defer producer.Close()

		assert.ErrorContains(t, producer.Publish(context.Background(), testEvent{}), "empty id")
	})
}

func TestProducer_RedisDown(t *testing.T) {
	client, mr := setupMiniredis(t)
	producer, err := NewProducer[testEvent](client, "jobs", WithProducerLogger[testEvent](discardLogger))
	require.NoError(t, err)
	producer.Start()
	defer producer.Close()

	mr.Close()
	err = producer.Publish(context.Background(), testEvent{ID: "a"})
	assert.Error(t, err)
}

func TestProducer_WithMiniredis(t *testing.T) {
	client, mr := setupMiniredis(t)

	producer, err := NewProducer[testEvent](client, "jobs", WithProducerLogger[testEvent](discardLogger))
	require.NoError(t, err)
	producer.Start()
	require.NoError(t, producer.Publish(context.Background(), testEvent{ID: "a"}))
	require.NoError(t, producer.Publish(context.Background(), testEvent{ID: "b"}))
	producer.Close()

	entries, err := mr.Stream("jobs")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first, err := DefaultParseFromMessage[testEvent](map[string]any{entries[0].Values[0]: entries[0].Values[1]})
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
}
