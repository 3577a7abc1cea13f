package recovery

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/errors"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetrier(fastConfig(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "fetch_ticker", func() error {
		calls++
		if calls < 3 {
			return stderrors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ExhaustsBudget(t *testing.T) {
	r := NewRetrier(fastConfig(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "fetch_ticker", func() error {
		calls++
		return stderrors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, errors.CategoryTemporary, engineErr.Category)
}

func TestRetrier_StopsOnNonRetryableError(t *testing.T) {
	r := NewRetrier(fastConfig(), zap.NewNop())

	calls := 0
	fatal := errors.New(errors.CategoryCredentials, "exchange", "auth", "api key rejected")
	err := r.Do(context.Background(), "place_order", func() error {
		calls++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "credentials errors must not be retried")
	assert.ErrorIs(t, err, fatal)
}

func TestRetrier_PreservesCategoryOnExhaustion(t *testing.T) {
	r := NewRetrier(fastConfig(), zap.NewNop())

	err := r.Do(context.Background(), "place_order", func() error {
		return errors.New(errors.CategoryCredentials, "exchange", "auth", "api key rejected")
	})

	require.Error(t, err)
	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, errors.CategoryCredentials, engineErr.Category,
		"a categorized error must not be demoted to temporary")
	assert.True(t, errors.IsFatal(err))
}

func TestRetrier_PreservesCategoryAfterRetries(t *testing.T) {
	r := NewRetrier(fastConfig(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "fetch_ticker", func() error {
		calls++
		return errors.New(errors.CategoryNetwork, "exchange", "tickers", "connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, errors.CategoryNetwork, engineErr.Category)
}

func TestRetrier_HonorsCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	r := NewRetrier(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Do(ctx, "fetch_ticker", func() error {
		return stderrors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation must interrupt backoff wait")
}

func TestRetrier_DelayGrowsAndIsCapped(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:    5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      40 * time.Millisecond,
		BackoffFactor: 2.0,
	}, zap.NewNop())

	assert.Equal(t, 10*time.Millisecond, r.delayFor(0))
	assert.Equal(t, 20*time.Millisecond, r.delayFor(1))
	assert.Equal(t, 40*time.Millisecond, r.delayFor(2))
	assert.Equal(t, 40*time.Millisecond, r.delayFor(4), "capped at max delay")
}
