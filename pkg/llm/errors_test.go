package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDeadline(t *testing.T) {
	err := classify(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestClassifyCancellationPassesThrough(t *testing.T) {
	err := classify(context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestClassifyNetworkFailureIsRetryable(t *testing.T) {
	err := classify(errors.New("connection reset by peer"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&TransportError{Err: errors.New("boom")}))
	assert.True(t, IsRetryable(&RateLimitedError{RetryAfter: time.Second, Err: errors.New("quota")}))
	assert.False(t, IsRetryable(ErrMissingKey))
	assert.False(t, IsRetryable(ErrBlockedByPolicy))
	assert.False(t, IsRetryable(ErrEmptyCompletion))
	assert.False(t, IsRetryable(ErrDeadline))
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, 0.0, clampTemperature(-1))
	assert.Equal(t, 0.7, clampTemperature(0.7))
	assert.Equal(t, 2.0, clampTemperature(5))
}

func TestGenerateStreamRequiresKey(t *testing.T) {
	client := NewGemini(GeminiOptions{})
	_, err := client.GenerateStream(context.Background(), &Request{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = client.Generate(context.Background(), &Request{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, ErrMissingKey)
}
