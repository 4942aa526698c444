package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
)

// DefaultRelayChannel is the pub/sub channel job views travel on.
const DefaultRelayChannel = "genreswap:job-updates"

// RedisRelay carries job views between processes. A worker process that
// mutates the shared redis registry publishes to the channel; every API
// process subscribes and feeds its local hub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{rdb: rdb, channel: channel, logger: logger.With("component", "redis_relay")}
}

// Publish implements registry.Publisher.
func (r *RedisRelay) Publish(ctx context.Context, view model.JobView) {
	data, err := json.Marshal(view)
	if err != nil {
		r.logger.Error("failed to marshal job view", "job_id", view.ID, "error", err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("failed to relay job view", "job_id", view.ID, "error", err)
	}
}

// Subscribe forwards relayed views to sink until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, sink registry.Publisher) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var view model.JobView
			if err := json.Unmarshal([]byte(msg.Payload), &view); err != nil {
				r.logger.Warn("discarding malformed relay message", "error", err)
				continue
			}
			sink.Publish(ctx, view)
		}
	}
}
