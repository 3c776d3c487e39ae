package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds one category of external calls (indexing, transcription,
// enrichment). Each category carries an independent budget.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
}

// Retry runs op under the policy: exponential backoff with jitter, at most
// MaxAttempts tries. Only transient failures retry; permanent and structural
// failures abort immediately, as does context cancellation.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, name string, op func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialWait > 0 {
		bo.InitialInterval = policy.InitialWait
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if Classify(err) != FailTransient {
			return backoff.Permanent(err)
		}
		if logger != nil && attempt < attempts {
			logger.Warn("transient failure, retrying", "op", name, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(attempts-1)))
}
