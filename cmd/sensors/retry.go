package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/config"
	"github.com/mklimuk/sensorhub/snsctx"
)

// retry runs fn until it succeeds, fails with a non-transient error or the
// policy runs out of attempts. Each attempt gets its own deadline when
// timeout is set. onBusy is called before retrying an ErrBusBusy failure.
func retry(ctx context.Context, policy config.Retry, timeout time.Duration, op string,
	onBusy func(context.Context) error, fn func(context.Context) error) error {
	logger := snsctx.Logger(ctx)
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err = attemptOnce(ctx, timeout, fn)
		if err == nil {
			return nil
		}
		if !sensorhub.IsTransient(err) || attempt == policy.Attempts {
			break
		}
		logger.WarnContext(ctx, "transient bus error, retrying", "op", op, "attempt", attempt, "error", err)
		if errors.Is(err, sensorhub.ErrBusBusy) && onBusy != nil {
			if rerr := onBusy(ctx); rerr != nil {
				logger.WarnContext(ctx, "could not release bus", "error", rerr)
			}
		}
		select {
		case <-time.After(policy.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, sensorhub.ErrTimeout) {
		err = fmt.Errorf("%w: %w", sensorhub.ErrTimeout, err)
	}
	return err
}
