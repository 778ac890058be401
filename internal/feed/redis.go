package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads samples published as JSON on a Redis pub/sub channel:
//
//	{"market":"BTC","price":95412.5,"timestamp":"2024-01-01T00:00:00Z"}
type RedisSource struct {
	rdb     *redis.Client
	channel string
	backoff backoff
	logger  *slog.Logger
}

// NewRedisSource creates a source reading channel. Resubscribes back off
// from minDelay to maxDelay.
func NewRedisSource(rdb *redis.Client, channel string, minDelay, maxDelay time.Duration, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{
		rdb:     rdb,
		channel: channel,
		backoff: newBackoff(minDelay, maxDelay),
		logger:  logger.With(slog.String("component", "redis_feed")),
	}
}

func (r *RedisSource) Name() string { return "redis" }

// Run subscribes and emits until ctx is cancelled, resubscribing whenever
// Redis is unreachable or the subscription closes.
func (r *RedisSource) Run(ctx context.Context, emit Emit) error {
	return reconnect(ctx, r.Name(), r.backoff, r.logger, func(ctx context.Context) (bool, error) {
		return r.runSubscription(ctx, emit)
	})
}

func (r *RedisSource) runSubscription(ctx context.Context, emit Emit) (bool, error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("redis: subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, fmt.Errorf("redis: subscription %s closed", r.channel)
			}
			s, err := DecodeSample([]byte(msg.Payload))
			if err != nil {
				r.logger.Debug("unparseable sample", "err", err)
				continue
			}
			emit(s)
		}
	}
}

// DecodeSample parses one published JSON sample.
func DecodeSample(payload []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return Sample{}, fmt.Errorf("feed: decode sample: %w", err)
	}
	return s, nil
}
