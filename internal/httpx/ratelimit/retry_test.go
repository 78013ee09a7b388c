package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(429))
	assert.True(t, IsRetryableStatus(500))
	assert.True(t, IsRetryableStatus(503))
	assert.True(t, IsRetryableStatus(599))

	assert.False(t, IsRetryableStatus(200))
	assert.False(t, IsRetryableStatus(400))
	assert.False(t, IsRetryableStatus(404))
	assert.False(t, IsRetryableStatus(600))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{InitialBackoffMs: 100, MaxBackoffMs: 1000}

	// Attempt 0: 100ms base, up to 25% jitter.
	d := CalculateBackoff(0, cfg)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.LessOrEqual(t, d, 125*time.Millisecond)

	// Attempt 2: 400ms base.
	d = CalculateBackoff(2, cfg)
	assert.GreaterOrEqual(t, d, 400*time.Millisecond)
	assert.LessOrEqual(t, d, 500*time.Millisecond)

	// Attempt 10 would be 102400ms uncapped; the cap plus jitter bounds it.
	d = CalculateBackoff(10, cfg)
	assert.GreaterOrEqual(t, d, 1000*time.Millisecond)
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
}

func TestCalculateRateLimitBackoff(t *testing.T) {
	cfg := Config{InitialBackoffMs: 100, MaxBackoffMs: 10000}

	// Retry-After wins over the exponential schedule.
	d := CalculateRateLimitBackoff(0, cfg, "2")
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.Less(t, d, 3*time.Second)

	// Unparseable header falls back to the 3x schedule.
	d = CalculateRateLimitBackoff(1, cfg, "soon")
	assert.GreaterOrEqual(t, d, 300*time.Millisecond)
	assert.LessOrEqual(t, d, 375*time.Millisecond)

	d = CalculateRateLimitBackoff(0, cfg, "")
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.LessOrEqual(t, d, 125*time.Millisecond)
}

func TestFetchRetryError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &FetchRetryError{URL: "https://example.com/prices", Attempts: 4, LastStatus: 503, LastError: inner}

	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, inner)
}

func TestWithOverrides(t *testing.T) {
	rps := 5.0
	retries := 1

	cfg := WithOverrides(PartialConfig{RequestsPerSecond: &rps, MaxRetries: &retries})
	assert.Equal(t, 5.0, cfg.RequestsPerSecond)
	assert.Equal(t, 1, cfg.MaxRetries)
	// Untouched fields keep the defaults.
	assert.Equal(t, 100, cfg.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.MaxBackoffMs)
}
