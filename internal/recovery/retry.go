package recovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/errors"
)

// RetryConfig controls bounded retry with exponential backoff.
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	InitialDelay  time.Duration `json:"initialDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterEnabled bool          `json:"jitterEnabled"`
}

// DefaultRetryConfig returns the retry policy used for exchange calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryableFunc is an operation that may fail transiently.
type RetryableFunc func() error

// Retrier executes operations with bounded retries. Non-retryable errors
// (fatal, credentials, validation) abort immediately.
type Retrier struct {
	cfg RetryConfig
	log *zap.Logger
}

// NewRetrier creates a retrier with the given policy.
func NewRetrier(cfg RetryConfig, log *zap.Logger) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &Retrier{cfg: cfg, log: log}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the error
// is classified non-retryable, or ctx is cancelled.
func (r *Retrier) Do(ctx context.Context, operation string, fn RetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.cfg.MaxRetries {
			break
		}
		if !errors.IsRetryable(err) {
			r.log.Warn("aborting retries on non-retryable error",
				zap.String("operation", operation),
				zap.Error(err))
			break
		}

		delay := r.delayFor(attempt)
		r.log.Debug("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// An already-categorized error keeps its category: re-wrapping a
	// credentials failure as TEMPORARY would hide it from the fatal-error
	// escalation path.
	if engineErr, ok := lastErr.(*errors.EngineError); ok {
		return engineErr
	}
	return errors.Wrap(lastErr, errors.CategoryTemporary, "recovery", operation)
}

func (r *Retrier) delayFor(attempt int) time.Duration {
	delay := r.cfg.InitialDelay
	if attempt > 0 {
		delay = time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.BackoffFactor, float64(attempt)))
	}
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	if r.cfg.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
