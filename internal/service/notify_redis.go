package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publishes events on a Redis channel so the UI gateway
// can stream batch progress to connected clients.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisNotifier creates a notifier publishing to the given channel.
func NewRedisNotifier(rdb *redis.Client, channel string, log *zap.Logger) *RedisNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	if channel == "" {
		channel = "import:events"
	}
	return &RedisNotifier{rdb: rdb, channel: channel, log: log.Named("notify-redis")}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Warn("publish failed", zap.String("event", ev.Type), zap.Error(err))
	}
}

// MultiNotifier fans one event out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
