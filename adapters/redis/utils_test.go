package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	ID        string            `msgpack:"id"`
	Attempts  int               `msgpack:"attempts"`
	Labels    map[string]string `msgpack:"labels"`
	CreatedAt time.Time         `msgpack:"created_at"`
}

func TestParseMessageRoundTrip(t *testing.T) {
	input := testJob{
		ID:        "0192b0c4-7f00-7000-8000-000000000001",
		Attempts:  3,
		Labels:    map[string]string{"owner": "user-a"},
		CreatedAt: time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC),
	}

	message, err := DefaultParseToMessage(input)
	require.NoError(t, err)
	require.Len(t, message, 1)
	assert.IsType(t, "", message["data"])

	output, err := DefaultParseFromMessage[testJob](message)
	require.NoError(t, err)
	assert.Equal(t, input.ID, output.ID)
	assert.Equal(t, input.Attempts, output.Attempts)
	assert.Equal(t, input.Labels, output.Labels)
	assert.True(t, input.CreatedAt.Equal(output.CreatedAt))
}

func TestDefaultParseToMessage(t *testing.T) {
	t.Run("pointer type error", func(t *testing.T) {
		_, err := DefaultParseToMessage(&testJob{ID: "x"})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("zero value", func(t *testing.T) {
		message, err := DefaultParseToMessage(testJob{})
		require.NoError(t, err)
		assert.NotEmpty(t, message["data"])
	})
}

func TestDefaultParseFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		message map[string]any
		wantErr error
	}{
		{name: "nil map", message: nil},
		{name: "empty map", message: map[string]any{}},
		{name: "missing data field", message: map[string]any{"other": "x"}, wantErr: ErrMissingField},
		{name: "invalid data type", message: map[string]any{"data": 42}, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := DefaultParseFromMessage[testJob](tt.message)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testJob{}, result)
		})
	}

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DefaultParseFromMessage[testJob](map[string]any{"data": "!!not-base64!!"})
		assert.Error(t, err)
	})

	t.Run("invalid msgpack payload", func(t *testing.T) {
		_, err := DefaultParseFromMessage[testJob](map[string]any{"data": "wQ=="})
		assert.Error(t, err)
	})

	t.Run("pointer type error", func(t *testing.T) {
		_, err := DefaultParseFromMessage[*testJob](map[string]any{"data": "x"})
		assert.ErrorIs(t, err, ErrPointerType)
	})
}
