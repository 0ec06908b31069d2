package util

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
)

// WaitFor retries check with exponential backoff starting at delay, giving up after attempts
// tries. Drivers use it at start up to wait for Redis.
func WaitFor(ctx context.Context, name string, attempts uint, delay time.Duration, check func() error) error {
	return retry.Do(
		check,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("%s is not available yet (attempt %d of %d)", name, n+1, attempts)
		}),
	)
}
