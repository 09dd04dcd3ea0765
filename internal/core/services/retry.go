package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// DefaultInitializeAttempts is the total number of Initialize calls per job.
const DefaultInitializeAttempts = 3

// RetryPolicy bounds the Initialize handshake.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Interval is the constant pause between attempts.
	Interval time.Duration
}

// DefaultRetryPolicy returns three attempts half a second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultInitializeAttempts, Interval: 500 * time.Millisecond}
}

// InitializeWithRetries performs the Initialize handshake.
// An unsupported-protocol answer fails at once. Any other failure, including a
// non-empty failure reason, is retried until the policy is exhausted, after
// which the error wraps domain.ErrReaderUnreachable.
func InitializeWithRetries(
	ctx context.Context,
	client driven.ReaderClient,
	filename, readBackAddress string,
	policy RetryPolicy,
) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultInitializeAttempts
	}

	attempts := 0
	op := func() error {
		attempts++
		reason, err := client.Initialize(ctx, filename, readBackAddress)
		if errors.Is(err, domain.ErrUnsupportedProtocol) {
			return backoff.Permanent(err)
		}
		if err == nil && reason != "" {
			err = fmt.Errorf("%w: %s", domain.ErrReaderReported, reason)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Initialize attempt %d/%d failed: %v (retrying in %s)", attempts, maxAttempts, err, next)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Interval), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		logger.Debug("Initialize succeeded after %d attempt(s)", attempts)
		return nil
	case errors.Is(err, domain.ErrUnsupportedProtocol):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %d attempts: %w", domain.ErrReaderUnreachable, attempts, err)
	}
}
