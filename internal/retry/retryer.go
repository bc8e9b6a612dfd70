// Package retry runs idempotent operations repeatedly until they succeed
// or fail with a permanent error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/retryerr"
)

const defMaxRetryTimeout = 15 * time.Minute

// Retryer executes a function repeatedly until it was successful, it
// returned an error that does not wrap retryerr.RetryableError or the
// retry timeout expired.
// It must only be used for idempotent operations.
type Retryer struct {
	logger          *zap.Logger
	maxRetryTimeout time.Duration
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:          zap.L().Named("retryer"),
		maxRetryTimeout: defMaxRetryTimeout,
	}
}

// Run executes fn until it succeeds, returns a permanent error, the retry
// timeout expired or the context was cancelled.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	endTime := time.Now().Add(r.maxRetryTimeout)

	retryTimeout := time.NewTimer(r.maxRetryTimeout)
	defer retryTimeout.Stop()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second

	for {
		tryCnt++
		logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

		select {
		case <-ctx.Done():
			logger.Info(
				"operation cancelled",
				logfields.Event("operation_cancelled"),
			)

			return ctx.Err()

		case <-retryTimer.C:
			err := fn(ctx)
			if err != nil {
				var retryError *retryerr.RetryableError

				logger = logger.With(zap.Error(err))

				if errors.Is(err, context.Canceled) {
					return err
				}

				if errors.As(err, &retryError) {
					if !retryError.After.IsZero() && retryError.After.After(endTime) {
						logger.Error(
							"operation failed, next possible retry time is after timeout expiration",
							logfields.Event("operation_failed"),
							zap.Time("earliest_allowed_retry", retryError.After),
						)

						return err
					}

					var retryIn time.Duration

					if retryError.After.IsZero() {
						retryIn = bo.NextBackOff()
					} else {
						retryIn = time.Until(retryError.After)
					}

					retryTimer.Reset(retryIn)
					logger.Warn(
						"operation failed, retry scheduled",
						logfields.Event("operation_retry_scheduled"),
						zap.Duration("retry_in", retryIn),
					)

					continue
				}

				logger.Debug(
					"operation failed, not retryable",
					logfields.Event("operation_failed"),
				)

				return err
			}

			return nil

		case <-retryTimeout.C:
			logger.Warn(
				"giving up retrying operation, retry timeout expired",
				logfields.Event("operation_retry_timeout"),
				zap.Duration("retry_timeout", r.maxRetryTimeout),
			)

			return errors.New("retry timeout expired")
		}
	}
}
