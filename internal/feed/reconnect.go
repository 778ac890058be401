package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/tickrace/price-engine/internal/metrics"
)

// backoff bounds reconnect delays for a source.
type backoff struct {
	min time.Duration
	max time.Duration
}

func newBackoff(minDelay, maxDelay time.Duration) backoff {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return backoff{min: minDelay, max: maxDelay}
}

// connectFunc runs one connection. It reports whether the connection got
// established, along with the error that ended it.
type connectFunc func(ctx context.Context) (bool, error)

// reconnect runs connect until ctx is cancelled. The delay between attempts
// doubles up to b.max and drops back to b.min after a connection that got
// established.
func reconnect(ctx context.Context, source string, b backoff, logger *slog.Logger, connect connectFunc) error {
	delay := b.min
	for {
		connected, err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = b.min
		}
		metrics.FeedReconnects.WithLabelValues(source).Inc()
		logger.Warn("upstream disconnected, reconnecting", "source", source, "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, b.max)
	}
}
