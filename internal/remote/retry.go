package remote

import (
	"context"
	"errors"
	"time"

	"media-converter/internal/logging"
)

// RetryConfig configures retry behavior for read-only gateway calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns defaults suited to a flaky SSH link.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// isTransient reports whether err is worth retrying. Answers from the remote
// host (missing file, garbled output) and cancellation are final.
func isTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnknownServer),
		errors.Is(err, ErrUnexpectedOutput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Retry runs fn until it succeeds, fails permanently or retries are
// exhausted, backing off exponentially between attempts.
func Retry(ctx context.Context, config RetryConfig, operation string, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("Gateway %s succeeded on retry %d", operation, attempt)
				if o := observe(); o != nil {
					o.ObserveRetrySuccess(operation)
				}
			}
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxRetries {
			if o := observe(); o != nil {
				o.ObserveRetryAttempt(operation)
			}
			logging.Debug("Gateway %s failed (%v), retrying in %v (attempt %d/%d)",
				operation, err, backoff, attempt+1, config.MaxRetries)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("Gateway %s failed after %d retries: %v", operation, config.MaxRetries, lastErr)
	if o := observe(); o != nil {
		o.ObserveRetryFailure(operation)
	}
	return lastErr
}

// retrying retries the idempotent calls of the wrapped gateway.
type retrying struct {
	Gateway
	config RetryConfig
}

// WithRetry wraps gw so that StatFile and EnsureDirectory are retried on
// transport errors. Execute, DeleteFile and UploadFile run once.
func WithRetry(gw Gateway, config RetryConfig) Gateway {
	return &retrying{Gateway: gw, config: config}
}

func (r *retrying) StatFile(ctx context.Context, serverID int64, path string) (FileInfo, error) {
	var info FileInfo
	err := Retry(ctx, r.config, "stat", func() error {
		var err error
		info, err = r.Gateway.StatFile(ctx, serverID, path)
		return err
	})
	return info, err
}

func (r *retrying) EnsureDirectory(ctx context.Context, serverID int64, path string) error {
	return Retry(ctx, r.config, "mkdir", func() error {
		return r.Gateway.EnsureDirectory(ctx, serverID, path)
	})
}
