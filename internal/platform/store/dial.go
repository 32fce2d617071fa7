package store

import (
	"context"
	"fmt"
	"time"

	"curator/internal/platform/logger"

	"github.com/cenkalti/backoff/v5"
)

const pingTimeout = 3 * time.Second

// dial pings a freshly opened backend until it answers, tries run out or ctx ends
func dial(ctx context.Context, log logger.Logger, name string, tries uint, ping func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 150 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return struct{}{}, ping(pctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("backend", name).Dur("retry_in", next).Msg("backend not ready")
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: not ready: %w", name, err)
	}
	return nil
}
