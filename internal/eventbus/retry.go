package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

// classify wraps a NATS error as either retryable or terminal so RetryPublish
// knows whether another attempt can possibly succeed. Connection and timeout
// errors are transient; subject/header validation failures will fail the
// same way on every retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTerminal(err) {
		return backoff.Permanent(err)
	}
	return err
}

func isTerminal(err error) bool {
	switch {
	case errors.Is(err, nats.ErrInvalidSubject),
		errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrAuthorization),
		errors.Is(err, nats.ErrMaxPayload):
		return true
	default:
		return false
	}
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, io.EOF):
		return true
	default:
		return !isTerminal(err)
	}
}

// RetryPublish runs publish with exponential backoff, stopping on the first
// terminal error or once maxElapsed has passed. It returns the number of
// attempts made alongside the final error, which callers log for
// observability of flaky delivery.
func RetryPublish(ctx context.Context, maxElapsed time.Duration, logger *slog.Logger, publish func() error) (attempts int, err error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	bo.InitialInterval = 100 * time.Millisecond

	operation := func() error {
		attempts++
		pubErr := publish()
		if pubErr == nil {
			return nil
		}
		if !isRetryable(pubErr) {
			return backoff.Permanent(pubErr)
		}
		return pubErr
	}

	notify := func(opErr error, wait time.Duration) {
		logger.Warn("event publish retrying",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", opErr.Error()),
		)
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
	return attempts, err
}
